package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trafficguard/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
}

type ServiceParams struct {
	fx.In

	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
	}
}

// AppendParams describes one new ledger entry. Amounts are signed; reversals
// are appended through Reverse, never by mutating prior rows.
type AppendParams struct {
	CampaignID  string
	CreatorID   string
	Type        EntryType
	AmountCents int64
	RefEventID  *string
	Description string
}

// CreatePayoutQueueEntry enqueues a payout instruction. It is the only write
// the reconciliation job performs against the finance subsystem.
func (s *Service) CreatePayoutQueueEntry(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	}

	if req.CreatorID == "" || req.CampaignID == "" {
		return EnqueueResult{}, errutil.BadRequest("payout queue entry requires creator and campaign", nil)
	}
	if req.AmountCents <= 0 {
		return EnqueueResult{}, errutil.BadRequest(fmt.Sprintf("payout amount must be positive, got %d", req.AmountCents), nil)
	}
	if req.Type != EntryTypeViewPayout && req.Type != EntryTypeConversionPayout {
		return EnqueueResult{}, errutil.BadRequest(fmt.Sprintf("payout queue does not accept entry type %s", req.Type), nil)
	}

	entry := PayoutQueueEntry{
		ID:          s.node.Generate().String(),
		CreatorID:   req.CreatorID,
		CampaignID:  req.CampaignID,
		AmountCents: req.AmountCents,
		Type:        req.Type,
		RiskScore:   req.RiskScore,
		Status:      QueueStatusPending,
		RefEventID:  req.RefEventID,
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		zap.L().With(opts...).Error("failed to enqueue payout", zap.Error(err))
		return EnqueueResult{}, err
	}

	return EnqueueResult{Success: true, PayoutQueueID: entry.ID}, nil
}

// AppendEntry writes a new hash-chained ledger entry for the creator. The
// chain is per creator: each entry carries the hash of the creator's previous
// entry, starting from a genesis marker.
func (s *Service) AppendEntry(ctx context.Context, p AppendParams) (*LedgerEntry, error) {
	if p.CreatorID == "" || p.CampaignID == "" {
		return nil, errutil.BadRequest("ledger entry requires creator and campaign", nil)
	}
	if p.AmountCents == 0 {
		return nil, errutil.BadRequest("ledger entry amount must be non-zero", nil)
	}
	if p.Type != EntryTypeReversal && p.AmountCents < 0 && p.Type != EntryTypePlatformFee {
		return nil, errutil.BadRequest(fmt.Sprintf("entry type %s must carry a positive amount", p.Type), nil)
	}

	var entry *LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previousHash := genesisHash

		var last LedgerEntry
		err := tx.Where("creator_id = ?", p.CreatorID).
			Order("created_at DESC, id DESC").
			First(&last).Error
		switch {
		case err == nil:
			previousHash = last.Hash
		case errors.Is(err, gorm.ErrRecordNotFound):
			// first entry for this creator
		default:
			return err
		}

		e := &LedgerEntry{
			ID:           s.node.Generate().String(),
			CampaignID:   p.CampaignID,
			CreatorID:    p.CreatorID,
			Type:         p.Type,
			AmountCents:  p.AmountCents,
			RefEventID:   p.RefEventID,
			Description:  p.Description,
			PreviousHash: previousHash,
			CreatedAt:    time.Now().UTC(),
		}
		e.Hash = e.GenerateHash()

		if err := tx.Create(e).Error; err != nil {
			return err
		}

		entry = e
		return nil
	})
	if err != nil {
		zap.L().Error("failed to append ledger entry",
			zap.String("creator_id", p.CreatorID),
			zap.String("type", string(p.Type)),
			zap.Error(err))
		return nil, err
	}

	return entry, nil
}

// Reverse appends a REVERSAL entry negating the original. The original row is
// never touched.
func (s *Service) Reverse(ctx context.Context, entryID, reason string) (*LedgerEntry, error) {
	var original LedgerEntry
	if err := s.db.WithContext(ctx).Where("id = ?", entryID).First(&original).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound(fmt.Sprintf("ledger entry %s not found", entryID), err)
		}
		return nil, err
	}

	if original.Type == EntryTypeReversal {
		return nil, errutil.BadRequest("cannot reverse a reversal entry", nil)
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&LedgerEntry{}).
		Where("type = ? AND ref_event_id = ?", EntryTypeReversal, original.ID).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, errutil.Conflict(fmt.Sprintf("ledger entry %s is already reversed", entryID), nil)
	}

	return s.AppendEntry(ctx, AppendParams{
		CampaignID:  original.CampaignID,
		CreatorID:   original.CreatorID,
		Type:        EntryTypeReversal,
		AmountCents: -original.AmountCents,
		RefEventID:  &original.ID,
		Description: reason,
	})
}

// CreatorBalance projects the creator's ledger stream into available and
// pending sums. Entries younger than the hold window are pending.
func (s *Service) CreatorBalance(ctx context.Context, creatorID string, holdWindow time.Duration) (Balance, error) {
	cutoff := time.Now().UTC().Add(-holdWindow)

	var balance Balance
	err := s.db.WithContext(ctx).Model(&LedgerEntry{}).
		Where("creator_id = ? AND created_at < ?", creatorID, cutoff).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&balance.AvailableCents).Error
	if err != nil {
		return Balance{}, err
	}

	err = s.db.WithContext(ctx).Model(&LedgerEntry{}).
		Where("creator_id = ? AND created_at >= ?", creatorID, cutoff).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&balance.PendingCents).Error
	if err != nil {
		return Balance{}, err
	}

	return balance, nil
}

// VerifyChain walks the creator's entries in append order and checks both the
// previous-hash linkage and each entry's recomputed hash. A non-nil error
// names the first broken entry.
func (s *Service) VerifyChain(ctx context.Context, creatorID string) error {
	var entries []LedgerEntry
	if err := s.db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return err
	}

	previous := genesisHash
	for i := range entries {
		e := &entries[i]
		if e.PreviousHash != previous {
			return errutil.Internal(fmt.Sprintf("ledger chain broken at entry %s: previous hash mismatch", e.ID), nil)
		}
		if e.GenerateHash() != e.Hash {
			return errutil.Internal(fmt.Sprintf("ledger chain broken at entry %s: content hash mismatch", e.ID), nil)
		}
		previous = e.Hash
	}

	return nil
}
