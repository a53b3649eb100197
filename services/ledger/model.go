package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryTypeViewPayout       EntryType = "VIEW_PAYOUT"
	EntryTypeConversionPayout EntryType = "CONVERSION_PAYOUT"
	EntryTypePlatformFee      EntryType = "PLATFORM_FEE"
	EntryTypeReversal         EntryType = "REVERSAL"
)

// genesisHash seeds the per-creator hash chain.
const genesisHash = "GENESIS"

// LedgerEntry is an immutable financial record. A creator's balance is always
// a sum projection over these rows, never a stored counter.
type LedgerEntry struct {
	ID           string         `gorm:"column:id;primaryKey"`
	CampaignID   string         `gorm:"column:campaign_id;index;not null"`
	CreatorID    string         `gorm:"column:creator_id;index;not null"`
	Type         EntryType      `gorm:"column:type;type:varchar(50);not null"`
	AmountCents  int64          `gorm:"column:amount_cents;not null"`
	RefEventID   *string        `gorm:"column:ref_event_id;index"`
	Description  string         `gorm:"column:description;type:text"`
	PreviousHash string         `gorm:"column:previous_hash;not null"`
	Hash         string         `gorm:"column:hash;not null"`
	Metadata     datatypes.JSON `gorm:"column:metadata"`
	CreatedAt    time.Time      `gorm:"column:created_at;index"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

func (e *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":            e.ID,
		"campaign_id":   e.CampaignID,
		"creator_id":    e.CreatorID,
		"type":          string(e.Type),
		"amount_cents":  fmt.Sprintf("%d", e.AmountCents),
		"ref_event_id":  strPtrValue(e.RefEventID),
		"description":   e.Description,
		"created_at":    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": e.PreviousHash,
	}
}

func (e *LedgerEntry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func strPtrValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "PENDING"
	QueueStatusProcessing QueueStatus = "PROCESSING"
	QueueStatusCompleted  QueueStatus = "COMPLETED"
	QueueStatusFailed     QueueStatus = "FAILED"
)

// PayoutQueueEntry is a pending instruction to credit a creator. Produced by
// the reconciliation job, consumed exactly once by the payout executor.
type PayoutQueueEntry struct {
	ID            string      `gorm:"column:id;primaryKey"`
	CreatorID     string      `gorm:"column:creator_id;index;not null"`
	CampaignID    string      `gorm:"column:campaign_id;index;not null"`
	AmountCents   int64       `gorm:"column:amount_cents;not null"`
	Type          EntryType   `gorm:"column:type;type:varchar(50);not null"`
	RiskScore     int         `gorm:"column:risk_score;not null;default:0"`
	Status        QueueStatus `gorm:"column:status;type:varchar(50);not null;default:'PENDING';index"`
	RefEventID    *string     `gorm:"column:ref_event_id"`
	PayoutCode    string      `gorm:"column:payout_code"`
	ExternalRef   string      `gorm:"column:external_ref"`
	FailureReason *string     `gorm:"column:failure_reason;type:text"`
	ProcessedAt   *time.Time  `gorm:"column:processed_at"`
	CreatedAt     time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

func (PayoutQueueEntry) TableName() string {
	return "payout_queue_entries"
}

// EnqueueRequest is the payout instruction the reconciliation job hands over.
type EnqueueRequest struct {
	CreatorID   string
	CampaignID  string
	AmountCents int64
	Type        EntryType
	RiskScore   int
	RefEventID  *string
}

type EnqueueResult struct {
	Success       bool
	PayoutQueueID string
}

// Balance is the sum projection of a creator's ledger stream split by the
// payout hold window.
type Balance struct {
	AvailableCents int64 `json:"available_cents"`
	PendingCents   int64 `json:"pending_cents"`
}
