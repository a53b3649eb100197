package oracle

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"trafficguard/pkg/config"
	"trafficguard/pkg/errutil"
	"trafficguard/pkg/quota"

	"github.com/go-resty/resty/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("oracle.client",
	fx.Provide(NewYouTubeClient),
)

// batchSize is the Data API maximum for a single videos.list call.
const batchSize = 50

// Client is the quota-limited metadata oracle the reconciliation and
// status-refresh jobs consume. Every call costs quota; callers are expected
// to consult QuotaUsage before starting a batch.
type Client interface {
	GetVideoStatistics(ctx context.Context, externalID string) (*VideoStatistics, error)
	FetchBatchVideoStatus(ctx context.Context, externalIDs []string) (map[string]VideoStatus, error)
	QuotaUsage(ctx context.Context) (quota.Usage, error)
}

type YouTubeClient struct {
	http    *resty.Client
	apiKey  string
	tracker quota.Tracker
}

type Params struct {
	fx.In

	Config  *config.Config
	Tracker quota.Tracker
}

func NewYouTubeClient(p Params) Client {
	httpClient := resty.New().
		SetBaseURL(p.Config.YouTube.BaseURL).
		SetTimeout(p.Config.YouTube.Timeout).
		SetHeader("Accept", "application/json")

	return &YouTubeClient{
		http:    httpClient,
		apiKey:  p.Config.YouTube.APIKey,
		tracker: p.Tracker,
	}
}

func (c *YouTubeClient) GetVideoStatistics(ctx context.Context, externalID string) (*VideoStatistics, error) {
	if externalID == "" {
		return nil, errutil.BadRequest("external id is required", nil)
	}

	var out youtubeListResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"part": "statistics",
			"id":   externalID,
			"key":  c.apiKey,
		}).
		SetResult(&out).
		Get("/videos")

	if rerr := c.tracker.Record(ctx, 1); rerr != nil {
		zap.L().Warn("failed to record oracle quota cost", zap.Error(rerr))
	}

	if err != nil {
		return nil, errutil.BadGateway("youtube statistics call failed", err)
	}
	if resp.IsError() {
		return nil, errutil.BadGateway(fmt.Sprintf("youtube statistics call returned %d", resp.StatusCode()), nil)
	}
	if len(out.Items) == 0 || out.Items[0].Statistics == nil {
		return nil, errutil.NotFound(fmt.Sprintf("video %s not found", externalID), nil)
	}

	st := out.Items[0].Statistics
	return &VideoStatistics{
		ViewCount:    parseCount(st.ViewCount),
		LikeCount:    parseCount(st.LikeCount),
		CommentCount: parseCount(st.CommentCount),
	}, nil
}

func (c *YouTubeClient) FetchBatchVideoStatus(ctx context.Context, externalIDs []string) (map[string]VideoStatus, error) {
	result := make(map[string]VideoStatus, len(externalIDs))

	for start := 0; start < len(externalIDs); start += batchSize {
		end := start + batchSize
		if end > len(externalIDs) {
			end = len(externalIDs)
		}

		var out youtubeListResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"part": "status,snippet",
				"id":   strings.Join(externalIDs[start:end], ","),
				"key":  c.apiKey,
			}).
			SetResult(&out).
			Get("/videos")

		if rerr := c.tracker.Record(ctx, 1); rerr != nil {
			zap.L().Warn("failed to record oracle quota cost", zap.Error(rerr))
		}

		if err != nil {
			return result, errutil.BadGateway("youtube status call failed", err)
		}
		if resp.IsError() {
			return result, errutil.BadGateway(fmt.Sprintf("youtube status call returned %d", resp.StatusCode()), nil)
		}

		for _, item := range out.Items {
			vs := VideoStatus{}
			if item.Status != nil {
				vs.PrivacyStatus = item.Status.PrivacyStatus
			}
			if item.Snippet != nil {
				vs.Title = item.Snippet.Title
				vs.ThumbnailURL = item.Snippet.Thumbnails.Medium.URL
			}
			result[item.ID] = vs
		}
	}

	return result, nil
}

func (c *YouTubeClient) QuotaUsage(ctx context.Context) (quota.Usage, error) {
	return c.tracker.Usage(ctx)
}

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
