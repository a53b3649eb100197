package metrics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"trafficguard/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("metrics.service",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&VisitEvent{}, &CreatorTrafficMetrics{})
}

// aggregateConcurrency bounds the per-pair fan-out. The pairs are independent
// rows; only the database is shared.
const aggregateConcurrency = 4

// baselineWindowDays is the lagging pre-spike baseline: the days in
// [date-3d, date-1d), deliberately excluding the target day and the day
// before it.
const baselineWindowDays = 2

// Escalator is the safety actuator the aggregator hands flagged pairs to.
type Escalator interface {
	Escalate(ctx context.Context, m *CreatorTrafficMetrics) error
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	escalator Escalator
	policy    FlaggingPolicy
	cfg       *config.Config
}

type ServiceParams struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Escalator Escalator `optional:"true"`
	Config    *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		escalator: p.Escalator,
		policy: FlaggingPolicy{
			MinScore:           p.Config.Fraud.FlagMinScore,
			MinDistinctReasons: p.Config.Fraud.FlagMinReasons,
		},
		cfg: p.Config,
	}
}

type pairKey struct {
	CreatorID  string `gorm:"column:creator_id"`
	CampaignID string `gorm:"column:campaign_id"`
}

// PairResult is the per-pair outcome reported back to the caller.
type PairResult struct {
	CreatorID    string `json:"creator_id"`
	CampaignID   string `json:"campaign_id"`
	Success      bool   `json:"success"`
	AnomalyScore int    `json:"anomaly_score"`
	Flagged      bool   `json:"flagged"`
	Error        string `json:"error,omitempty"`
}

type AggregateResult struct {
	Date      time.Time    `json:"date"`
	Processed int          `json:"processed"`
	Flagged   int          `json:"flagged"`
	Results   []PairResult `json:"results"`
}

// RunAggregation rolls up the target day's raw visit events into one metrics
// row per (creator, campaign) pair, scores each pair, and escalates flagged
// ones. Safe to re-run for the same day; the upsert overwrites rather than
// accumulates.
func (s *Service) RunAggregation(ctx context.Context, targetDate time.Time) (*AggregateResult, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}

	if targetDate.IsZero() {
		targetDate = time.Now().UTC()
	}
	day := targetDate.UTC().Truncate(24 * time.Hour)
	dayEnd := day.Add(24 * time.Hour)

	var pairs []pairKey
	if err := s.db.WithContext(ctx).Model(&VisitEvent{}).
		Distinct("creator_id", "campaign_id").
		Where("visited_at >= ? AND visited_at < ?", day, dayEnd).
		Find(&pairs).Error; err != nil {
		zap.L().With(opts...).Error("failed to discover creator-campaign pairs", zap.Error(err))
		return nil, err
	}

	result := &AggregateResult{Date: day}
	if len(pairs) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(aggregateConcurrency)

	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			item := s.aggregatePair(gctx, pair, day, dayEnd)

			mu.Lock()
			result.Results = append(result.Results, item)
			if item.Success {
				result.Processed++
			}
			if item.Flagged {
				result.Flagged++
			}
			mu.Unlock()

			// per-pair failures are isolated; never abort the batch
			return nil
		})
	}

	_ = g.Wait()

	zap.L().With(opts...).Info("aggregation run finished",
		zap.Time("date", day),
		zap.Int("processed", result.Processed),
		zap.Int("flagged", result.Flagged))

	return result, nil
}

func (s *Service) aggregatePair(ctx context.Context, pair pairKey, day, dayEnd time.Time) PairResult {
	item := PairResult{CreatorID: pair.CreatorID, CampaignID: pair.CampaignID}

	row, err := s.rollup(ctx, pair, day, dayEnd)
	if err != nil {
		zap.L().Error("failed to aggregate pair",
			zap.String("creator_id", pair.CreatorID),
			zap.String("campaign_id", pair.CampaignID),
			zap.Error(err))
		item.Error = err.Error()
		return item
	}

	score, reasons := Score(ScoreInput{
		TotalRecorded:      row.TotalRecorded,
		TotalValidated:     row.TotalValidated,
		ValidationRate:     row.ValidationRate,
		UniqueIPs:          row.UniqueIPs,
		GeoDiversityScore:  row.GeoDiversityScore,
		AvgFraudScore:      row.AvgFraudScore,
		AvgFraudScoreLimit: s.cfg.Fraud.AvgFraudScoreLimit,
		SpikePercent:       row.SpikePercent,
		Baseline:           row.PreviousAvgViews,
	})

	row.AnomalyScore = score
	row.Flagged = s.policy.ShouldFlag(score, reasons)
	if row.Flagged {
		encoded, _ := json.Marshal(reasons)
		row.FlagReasons = encoded
	}

	if err := s.upsert(ctx, row); err != nil {
		zap.L().Error("failed to upsert metrics row",
			zap.String("creator_id", pair.CreatorID),
			zap.String("campaign_id", pair.CampaignID),
			zap.Error(err))
		item.Error = err.Error()
		return item
	}

	item.Success = true
	item.AnomalyScore = score
	item.Flagged = row.Flagged

	if row.Flagged && s.escalator != nil {
		if err := s.escalator.Escalate(ctx, row); err != nil {
			// escalation failure does not undo the stored metrics row
			zap.L().Error("failed to escalate flagged pair",
				zap.String("campaign_id", pair.CampaignID),
				zap.Error(err))
			item.Error = err.Error()
		}
	}

	return item
}

func (s *Service) rollup(ctx context.Context, pair pairKey, day, dayEnd time.Time) (*CreatorTrafficMetrics, error) {
	dayScope := func(tx *gorm.DB) *gorm.DB {
		return tx.Where("creator_id = ? AND campaign_id = ? AND visited_at >= ? AND visited_at < ?",
			pair.CreatorID, pair.CampaignID, day, dayEnd)
	}

	row := &CreatorTrafficMetrics{
		ID:         s.node.Generate().String(),
		CreatorID:  pair.CreatorID,
		CampaignID: pair.CampaignID,
		Date:       day,
	}

	events := s.db.WithContext(ctx).Model(&VisitEvent{})
	if err := events.Scopes(dayScope).Count(&row.TotalRecorded).Error; err != nil {
		return nil, err
	}

	counts := []struct {
		dst  *int64
		cond string
	}{
		{&row.TotalValidated, "is_validated = ?"},
		{&row.TotalBillable, "is_billable = ?"},
		{&row.TotalConversions, "is_conversion = ?"},
	}
	for _, c := range counts {
		if err := s.db.WithContext(ctx).Model(&VisitEvent{}).
			Scopes(dayScope).Where(c.cond, true).
			Count(c.dst).Error; err != nil {
			return nil, err
		}
	}

	validatedScope := func(tx *gorm.DB) *gorm.DB {
		return dayScope(tx).Where("is_validated = ?", true)
	}

	if err := s.db.WithContext(ctx).Model(&VisitEvent{}).
		Scopes(validatedScope).
		Select("COALESCE(AVG(fraud_score), 0)").
		Scan(&row.AvgFraudScore).Error; err != nil {
		return nil, err
	}

	var distinctCountries int64
	distincts := []struct {
		dst  *int64
		expr string
	}{
		{&row.UniqueIPs, "COUNT(DISTINCT ip_hash)"},
		{&row.UniqueFingerprints, "COUNT(DISTINCT fingerprint_hash)"},
		{&distinctCountries, "COUNT(DISTINCT geo_country)"},
	}
	for _, d := range distincts {
		if err := s.db.WithContext(ctx).Model(&VisitEvent{}).
			Scopes(validatedScope).
			Select(d.expr).
			Scan(d.dst).Error; err != nil {
			return nil, err
		}
	}

	if row.TotalValidated > 0 {
		row.GeoDiversityScore = float64(distinctCountries) / float64(row.TotalValidated)
		row.ConversionRate = float64(row.TotalConversions) / float64(row.TotalValidated)
	}
	if row.TotalRecorded > 0 {
		row.ValidationRate = float64(row.TotalValidated) / float64(row.TotalRecorded)
	}

	baseline, err := s.baseline(ctx, pair, day)
	if err != nil {
		return nil, err
	}
	row.PreviousAvgViews = baseline
	if baseline > 0 {
		row.SpikePercent = (float64(row.TotalRecorded) - baseline) / baseline * 100
	}

	return row, nil
}

// baseline averages recorded traffic over [day-3d, day-1d). The window ends
// the day before yesterday so that a spike building up since yesterday cannot
// inflate its own baseline.
func (s *Service) baseline(ctx context.Context, pair pairKey, day time.Time) (float64, error) {
	windowStart := day.Add(-3 * 24 * time.Hour)
	windowEnd := day.Add(-1 * 24 * time.Hour)

	var total int64
	if err := s.db.WithContext(ctx).Model(&VisitEvent{}).
		Where("creator_id = ? AND campaign_id = ? AND visited_at >= ? AND visited_at < ?",
			pair.CreatorID, pair.CampaignID, windowStart, windowEnd).
		Count(&total).Error; err != nil {
		return 0, err
	}

	return float64(total) / float64(baselineWindowDays), nil
}

func (s *Service) upsert(ctx context.Context, row *CreatorTrafficMetrics) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "creator_id"}, {Name: "campaign_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_recorded", "total_validated", "total_billable", "total_conversions",
			"avg_fraud_score", "unique_ips", "unique_fingerprints",
			"geo_diversity_score", "validation_rate", "conversion_rate",
			"previous_avg_views", "spike_percent", "anomaly_score",
			"flagged", "flag_reasons", "updated_at",
		}),
	}).Create(row).Error
}

// MetricsForCreator returns the most recent daily rows for a creator, newest
// first. Serves the admin surface.
func (s *Service) MetricsForCreator(ctx context.Context, creatorID string, limit int) ([]CreatorTrafficMetrics, error) {
	if limit <= 0 {
		limit = 30
	}

	var rows []CreatorTrafficMetrics
	err := s.db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("date DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
