package metrics

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// VisitEvent is one raw telemetry row from the tracking pixel. The aggregator
// only reads these; ingestion lives upstream.
type VisitEvent struct {
	ID              string    `gorm:"column:id;primaryKey"`
	CreatorID       string    `gorm:"column:creator_id;index:idx_visit_pair;not null"`
	CampaignID      string    `gorm:"column:campaign_id;index:idx_visit_pair;not null"`
	IPHash          string    `gorm:"column:ip_hash;type:varchar(64)"`
	FingerprintHash string    `gorm:"column:fingerprint_hash;type:varchar(64)"`
	GeoCountry      string    `gorm:"column:geo_country;type:varchar(2)"`
	FraudScore      float64   `gorm:"column:fraud_score;not null;default:0"`
	IsValidated     bool      `gorm:"column:is_validated;not null;default:false"`
	IsBillable      bool      `gorm:"column:is_billable;not null;default:false"`
	IsConversion    bool      `gorm:"column:is_conversion;not null;default:false"`
	VisitedAt       time.Time `gorm:"column:visited_at;index;not null"`
}

func (VisitEvent) TableName() string {
	return "visit_events"
}

// CreatorTrafficMetrics is the daily rollup per (creator, campaign, date).
// One row per key, upsert semantics; re-running the same day overwrites.
type CreatorTrafficMetrics struct {
	ID                 string         `gorm:"column:id;primaryKey"`
	CreatorID          string         `gorm:"column:creator_id;uniqueIndex:idx_metrics_day;not null"`
	CampaignID         string         `gorm:"column:campaign_id;uniqueIndex:idx_metrics_day;not null"`
	Date               time.Time      `gorm:"column:date;uniqueIndex:idx_metrics_day;not null"`
	TotalRecorded      int64          `gorm:"column:total_recorded;not null;default:0"`
	TotalValidated     int64          `gorm:"column:total_validated;not null;default:0"`
	TotalBillable      int64          `gorm:"column:total_billable;not null;default:0"`
	TotalConversions   int64          `gorm:"column:total_conversions;not null;default:0"`
	AvgFraudScore      float64        `gorm:"column:avg_fraud_score;not null;default:0"`
	UniqueIPs          int64          `gorm:"column:unique_ips;not null;default:0"`
	UniqueFingerprints int64          `gorm:"column:unique_fingerprints;not null;default:0"`
	GeoDiversityScore  float64        `gorm:"column:geo_diversity_score;not null;default:0"`
	ValidationRate     float64        `gorm:"column:validation_rate;not null;default:0"`
	ConversionRate     float64        `gorm:"column:conversion_rate;not null;default:0"`
	PreviousAvgViews   float64        `gorm:"column:previous_avg_views;not null;default:0"`
	SpikePercent       float64        `gorm:"column:spike_percent;not null;default:0"`
	AnomalyScore       int            `gorm:"column:anomaly_score;not null;default:0"`
	Flagged            bool           `gorm:"column:flagged;not null;default:false"`
	FlagReasons        datatypes.JSON `gorm:"column:flag_reasons"`
	CreatedAt          time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (CreatorTrafficMetrics) TableName() string {
	return "creator_traffic_metrics"
}

// ReasonList decodes the stored flag reasons; empty when not flagged.
func (m *CreatorTrafficMetrics) ReasonList() []string {
	if len(m.FlagReasons) == 0 {
		return nil
	}
	var reasons []string
	if err := json.Unmarshal(m.FlagReasons, &reasons); err != nil {
		return nil
	}
	return reasons
}
