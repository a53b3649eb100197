package post

import (
	"context"
	"errors"
	"math"
	"time"

	"trafficguard/pkg/config"
	"trafficguard/pkg/quota"
	"trafficguard/services/campaign"
	"trafficguard/services/ledger"
	"trafficguard/services/oracle"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PayoutEnqueuer is the only write surface the reconciliation job has into
// the finance subsystem.
type PayoutEnqueuer interface {
	CreatePayoutQueueEntry(ctx context.Context, req ledger.EnqueueRequest) (ledger.EnqueueResult, error)
}

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	oracle  oracle.Client
	payouts PayoutEnqueuer
	cfg     *config.Config
	limits  Limits
}

type ServiceParams struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Oracle  oracle.Client
	Payouts PayoutEnqueuer
	Config  *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		oracle:  p.Oracle,
		payouts: p.Payouts,
		cfg:     p.Config,
		limits: Limits{
			MaxGrowthPercent: p.Config.Fraud.MaxGrowthPercent,
			MaxHourlyViews:   p.Config.Fraud.MaxHourlyViews,
			MinTrustScore:    p.Config.Fraud.MinTrustScore,
		},
	}
}

// ItemResult is the per-post outcome of one reconciliation pass.
type ItemResult struct {
	PostID      string `json:"post_id"`
	ExternalID  string `json:"external_id"`
	Success     bool   `json:"success"`
	Validated   bool   `json:"validated"`
	Flagged     bool   `json:"flagged"`
	Delta       int64  `json:"delta"`
	PayoutCents int64  `json:"payout_cents"`
	Error       string `json:"error,omitempty"`
}

type ReconcileResult struct {
	Processed       int          `json:"processed"`
	ValidatedDeltas int          `json:"validated_deltas"`
	FlaggedPosts    int          `json:"flagged_posts"`
	QuotaUsage      quota.Usage  `json:"quota_usage"`
	Results         []ItemResult `json:"results"`
}

// RunReconciliation pulls live statistics for active posts, validates each
// observed view delta, persists an immutable snapshot, and enqueues payouts
// for validated growth. One oracle failure never aborts the batch; quota
// pressure above the abort threshold aborts the whole run before any call.
func (s *Service) RunReconciliation(ctx context.Context, maxPosts int) (*ReconcileResult, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}

	if maxPosts <= 0 {
		maxPosts = s.cfg.Jobs.ReconcileBatchSize
	}

	result := &ReconcileResult{}

	usage, err := s.oracle.QuotaUsage(ctx)
	if err != nil {
		zap.L().With(opts...).Error("failed to read oracle quota", zap.Error(err))
		return nil, err
	}
	result.QuotaUsage = usage
	if usage.PercentUsed > s.cfg.Fraud.QuotaAbortPercent {
		zap.L().With(opts...).Warn("oracle quota above abort threshold, skipping reconciliation",
			zap.Float64("percent_used", usage.PercentUsed))
		return result, nil
	}

	var posts []TrackedPost
	if err := s.db.WithContext(ctx).
		Where("status = ?", StatusActive).
		Order("last_checked_at ASC").
		Limit(maxPosts).
		Find(&posts).Error; err != nil {
		zap.L().With(opts...).Error("failed to load active posts", zap.Error(err))
		return nil, err
	}

	budgets := map[string]*int64{}

	for i := range posts {
		item := s.reconcilePost(ctx, &posts[i], budgets)

		result.Results = append(result.Results, item)
		result.Processed++
		if item.Validated {
			result.ValidatedDeltas++
		}
		if item.Flagged {
			result.FlaggedPosts++
		}
	}

	if usage, err := s.oracle.QuotaUsage(ctx); err == nil {
		result.QuotaUsage = usage
	}

	zap.L().With(opts...).Info("reconciliation run finished",
		zap.Int("processed", result.Processed),
		zap.Int("validated", result.ValidatedDeltas),
		zap.Int("flagged", result.FlaggedPosts))

	return result, nil
}

func (s *Service) reconcilePost(ctx context.Context, p *TrackedPost, budgets map[string]*int64) ItemResult {
	item := ItemResult{PostID: p.ID, ExternalID: p.ExternalID}
	now := time.Now().UTC()

	stats, err := s.oracle.GetVideoStatistics(ctx, p.ExternalID)
	if err != nil {
		zap.L().Warn("oracle lookup failed",
			zap.String("post_id", p.ID),
			zap.String("external_id", p.ExternalID),
			zap.Error(err))
		item.Error = err.Error()
		return item
	}

	delta := stats.ViewCount - p.LastCheckedViews
	item.Delta = delta

	budget, err := s.campaignBudget(ctx, p.CampaignID, budgets)
	if err != nil {
		zap.L().Warn("failed to resolve campaign budget",
			zap.String("post_id", p.ID),
			zap.String("campaign_id", p.CampaignID),
			zap.Error(err))
		item.Error = err.Error()
		return item
	}

	verdict := Validate(ValidationInput{
		Delta:            delta,
		LastCheckedViews: p.LastCheckedViews,
		TrustScore:       p.TrustScoreSnapshot,
		DailyBudgetCents: budget,
	}, s.limits)

	flagging := !verdict.Passed && delta > 0

	snapshot := ViewSnapshot{
		ID:               s.node.Generate().String(),
		PostID:           p.ID,
		ViewCount:        stats.ViewCount,
		LikeCount:        stats.LikeCount,
		CommentCount:     stats.CommentCount,
		DeltaViews:       delta,
		IsValidated:      verdict.Passed,
		ValidationReason: verdict.Reason,
		IsFlagged:        flagging,
		CheckedAt:        now,
	}
	if flagging {
		snapshot.FlagReason = verdict.Reason
	}
	if err := s.db.WithContext(ctx).Create(&snapshot).Error; err != nil {
		zap.L().Error("failed to persist snapshot", zap.String("post_id", p.ID), zap.Error(err))
		item.Error = err.Error()
		return item
	}

	counters := map[string]interface{}{
		"current_views":      stats.ViewCount,
		"last_checked_views": stats.ViewCount,
		"like_count":         stats.LikeCount,
		"comment_count":      stats.CommentCount,
		"last_checked_at":    now,
	}

	if flagging {
		// counters track platform truth regardless of what happens to the
		// status below
		if err := s.db.WithContext(ctx).Model(&TrackedPost{}).
			Where("id = ?", p.ID).
			Updates(counters).Error; err != nil {
			zap.L().Error("failed to update post counters", zap.String("post_id", p.ID), zap.Error(err))
			item.Error = err.Error()
			return item
		}

		// the transition is guarded so a manually resolved post is never
		// re-flagged by a stale run
		res := s.db.WithContext(ctx).Model(&TrackedPost{}).
			Where("id = ? AND status = ?", p.ID, StatusActive).
			Updates(map[string]interface{}{
				"status":      StatusFlagged,
				"flag_reason": verdict.Reason,
			})
		if res.Error != nil {
			item.Error = res.Error.Error()
			return item
		}
		if res.RowsAffected > 0 {
			item.Flagged = true
		}
		item.Success = true

		zap.L().Warn("post flagged",
			zap.String("post_id", p.ID),
			zap.Int64("delta", delta),
			zap.String("reason", verdict.Reason),
			zap.String("severity", string(verdict.Severity)))
		return item
	}

	if verdict.Passed {
		item.Validated = true

		payout := int64(math.Floor(float64(delta) * float64(p.CPMCents) / payoutCPMDivisor * PayoutMultiplier(p.TrustScoreSnapshot)))
		if payout > 0 {
			res, err := s.payouts.CreatePayoutQueueEntry(ctx, ledger.EnqueueRequest{
				CreatorID:   p.CreatorID,
				CampaignID:  p.CampaignID,
				AmountCents: payout,
				Type:        ledger.EntryTypeViewPayout,
				RiskScore:   100 - p.TrustScoreSnapshot,
				RefEventID:  &snapshot.ID,
			})
			if err != nil || !res.Success {
				// the validated view still counts; the missing payout is a
				// correctable discrepancy found by FindUnpaidValidatedSnapshots
				zap.L().Error("failed to enqueue payout",
					zap.String("post_id", p.ID),
					zap.Int64("amount_cents", payout),
					zap.Error(err))
			} else {
				item.PayoutCents = payout
				if err := s.db.WithContext(ctx).Model(&ViewSnapshot{}).
					Where("id = ?", snapshot.ID).
					Updates(map[string]interface{}{
						"payout_amount_cents": payout,
						"payout_queue_id":     res.PayoutQueueID,
					}).Error; err != nil {
					zap.L().Error("failed to backfill snapshot payout", zap.String("snapshot_id", snapshot.ID), zap.Error(err))
				}
			}
		}

		counters["total_validated_views"] = gorm.Expr("total_validated_views + ?", delta)
	}

	if err := s.db.WithContext(ctx).Model(&TrackedPost{}).
		Where("id = ?", p.ID).
		Updates(counters).Error; err != nil {
		zap.L().Error("failed to update post counters", zap.String("post_id", p.ID), zap.Error(err))
		item.Error = err.Error()
		return item
	}

	item.Success = true
	return item
}

func (s *Service) campaignBudget(ctx context.Context, campaignID string, cache map[string]*int64) (*int64, error) {
	if budget, ok := cache[campaignID]; ok {
		return budget, nil
	}

	var c campaign.Campaign
	err := s.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cache[campaignID] = nil
			return nil, nil
		}
		return nil, err
	}

	cache[campaignID] = c.DailyBudgetCents
	return c.DailyBudgetCents, nil
}

// FindUnpaidValidatedSnapshots returns validated snapshots whose payout was
// never enqueued, the gap left when CreatePayoutQueueEntry fails mid-run.
// An out-of-band sweep uses this to reissue the missing payouts.
func (s *Service) FindUnpaidValidatedSnapshots(ctx context.Context, since time.Time, limit int) ([]ViewSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}

	var snapshots []ViewSnapshot
	err := s.db.WithContext(ctx).
		Where("is_validated = ? AND delta_views > 0 AND payout_queue_id IS NULL AND checked_at >= ?", true, since).
		Order("checked_at ASC").
		Limit(limit).
		Find(&snapshots).Error
	return snapshots, err
}
