package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trafficguard/pkg/config"
	"trafficguard/pkg/quota"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestClient(t *testing.T, handler http.HandlerFunc, tracker quota.Tracker) Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.YouTube.BaseURL = srv.URL
	cfg.YouTube.APIKey = "test-key"
	cfg.YouTube.Timeout = 5 * time.Second

	return NewYouTubeClient(Params{Config: cfg, Tracker: tracker})
}

func TestGetVideoStatistics(t *testing.T) {
	tracker := quota.NewMemoryTracker(10000)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "statistics", r.URL.Query().Get("part"))
		require.Equal(t, "vid-1", r.URL.Query().Get("id"))
		require.Equal(t, "test-key", r.URL.Query().Get("key"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[{"id":"vid-1","statistics":{"viewCount":"1050","likeCount":"33","commentCount":"7"}}]}`)
	}, tracker)

	stats, err := client.GetVideoStatistics(context.Background(), "vid-1")
	require.NoError(t, err)
	require.Equal(t, int64(1050), stats.ViewCount)
	require.Equal(t, int64(33), stats.LikeCount)
	require.Equal(t, int64(7), stats.CommentCount)

	usage, err := tracker.Usage(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), usage.Used)
}

func TestGetVideoStatisticsNotFound(t *testing.T) {
	tracker := quota.NewMemoryTracker(10000)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[]}`)
	}, tracker)

	_, err := client.GetVideoStatistics(context.Background(), "missing")
	require.Error(t, err)

	// the failed lookup still consumed quota
	usage, err := tracker.Usage(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), usage.Used)
}

func TestFetchBatchVideoStatusChunks(t *testing.T) {
	tracker := quota.NewMemoryTracker(10000)

	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		ids := strings.Split(r.URL.Query().Get("id"), ",")
		require.LessOrEqual(t, len(ids), 50)

		var items []string
		for _, id := range ids {
			items = append(items, fmt.Sprintf(
				`{"id":%q,"status":{"privacyStatus":"public"},"snippet":{"title":"t-%s","thumbnails":{"medium":{"url":"http://img/%s"}}}}`,
				id, id, id,
			))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"items":[%s]}`, strings.Join(items, ","))
	}, tracker)

	ids := make([]string, 0, 120)
	for i := 0; i < 120; i++ {
		ids = append(ids, fmt.Sprintf("vid-%03d", i))
	}

	statuses, err := client.FetchBatchVideoStatus(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, statuses, 120)
	require.Equal(t, 3, calls)

	vs, ok := statuses["vid-007"]
	require.True(t, ok)
	require.Equal(t, "public", vs.PrivacyStatus)
	require.Equal(t, "t-vid-007", vs.Title)

	usage, err := tracker.Usage(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), usage.Used)
}

func TestQuotaUsagePassthrough(t *testing.T) {
	tracker := quota.NewMemoryTracker(100)
	tracker.Set(81)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("usage lookup must not hit the API")
	}, tracker)

	usage, err := client.QuotaUsage(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 81.0, usage.PercentUsed, 0.001)
}
