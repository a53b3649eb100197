package post

import (
	"context"
	"time"

	"trafficguard/pkg/quota"

	"go.uber.org/zap"
)

// RefreshResult reports one status-refresh run.
type RefreshResult struct {
	Processed  int         `json:"processed"`
	Updated    int         `json:"updated"`
	QuotaUsage quota.Usage `json:"quota_usage"`
}

// RunStatusRefresh refreshes privacy status, title and thumbnail for tracked
// posts in batches of 50 ordered by staleness. The same quota abort threshold
// as reconciliation applies; under pressure the job does nothing.
func (s *Service) RunStatusRefresh(ctx context.Context) (*RefreshResult, error) {
	result := &RefreshResult{}

	usage, err := s.oracle.QuotaUsage(ctx)
	if err != nil {
		zap.L().Error("failed to read oracle quota", zap.Error(err))
		return nil, err
	}
	result.QuotaUsage = usage
	if usage.PercentUsed > s.cfg.Fraud.QuotaAbortPercent {
		zap.L().Warn("oracle quota above abort threshold, skipping status refresh",
			zap.Float64("percent_used", usage.PercentUsed))
		return result, nil
	}

	batchSize := s.cfg.Jobs.RefreshBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	var posts []TrackedPost
	if err := s.db.WithContext(ctx).
		Where("status IN ?", []PostStatus{StatusPending, StatusActive}).
		Order("last_checked_at ASC").
		Limit(batchSize).
		Find(&posts).Error; err != nil {
		zap.L().Error("failed to load posts for status refresh", zap.Error(err))
		return nil, err
	}
	if len(posts) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(posts))
	byExternalID := make(map[string]*TrackedPost, len(posts))
	for i := range posts {
		ids = append(ids, posts[i].ExternalID)
		byExternalID[posts[i].ExternalID] = &posts[i]
	}

	statuses, err := s.oracle.FetchBatchVideoStatus(ctx, ids)
	if err != nil {
		zap.L().Error("batch status lookup failed", zap.Error(err))
		return nil, err
	}

	now := time.Now().UTC()
	for externalID, vs := range statuses {
		p, ok := byExternalID[externalID]
		if !ok {
			continue
		}
		result.Processed++

		updates := map[string]interface{}{"updated_at": now}
		if vs.PrivacyStatus != "" && vs.PrivacyStatus != p.PrivacyStatus {
			updates["privacy_status"] = vs.PrivacyStatus
		}
		if vs.Title != "" && vs.Title != p.Title {
			updates["title"] = vs.Title
		}
		if vs.ThumbnailURL != "" && vs.ThumbnailURL != p.ThumbnailURL {
			updates["thumbnail_url"] = vs.ThumbnailURL
		}
		if len(updates) == 1 {
			continue
		}

		if err := s.db.WithContext(ctx).Model(&TrackedPost{}).
			Where("id = ?", p.ID).
			Updates(updates).Error; err != nil {
			zap.L().Error("failed to refresh post status", zap.String("post_id", p.ID), zap.Error(err))
			continue
		}
		result.Updated++
	}

	if usage, err := s.oracle.QuotaUsage(ctx); err == nil {
		result.QuotaUsage = usage
	}

	zap.L().Info("status refresh finished",
		zap.Int("processed", result.Processed),
		zap.Int("updated", result.Updated))

	return result, nil
}
