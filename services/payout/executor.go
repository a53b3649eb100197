package payout

import (
	"context"
	"fmt"
	"time"

	"trafficguard/pkg/config"
	"trafficguard/pkg/sequence"
	"trafficguard/services/ledger"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("payout.service",
	fx.Provide(
		NewStripePSP,
		NewExecutor,
	),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&CreatorPayoutAccount{})
}

// Executor drains the payout queue. Each entry is claimed with a conditional
// status update so overlapping runs never pay the same entry twice.
type Executor struct {
	db         *gorm.DB
	psp        PSP
	ledger     *ledger.Service
	seq        sequence.Generator
	feePercent int64
	batchSize  int
}

type ExecutorParams struct {
	fx.In

	DB     *gorm.DB
	PSP    PSP
	Ledger *ledger.Service
	Seq    sequence.Generator
	Config *config.Config
}

func NewExecutor(p ExecutorParams) *Executor {
	return &Executor{
		db:         p.DB,
		psp:        p.PSP,
		ledger:     p.Ledger,
		seq:        p.Seq,
		feePercent: p.Config.Stripe.PlatformFeePercent,
		batchSize:  p.Config.Jobs.PayoutBatchSize,
	}
}

type DrainResult struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Drain claims and executes pending payout queue entries, oldest first. A
// failed disbursement marks the entry FAILED with the reason; it never blocks
// the rest of the batch.
func (e *Executor) Drain(ctx context.Context, batchSize int) (*DrainResult, error) {
	if batchSize <= 0 {
		batchSize = e.batchSize
	}
	if batchSize <= 0 {
		batchSize = 25
	}

	var pending []ledger.PayoutQueueEntry
	if err := e.db.WithContext(ctx).
		Where("status = ?", ledger.QueueStatusPending).
		Order("created_at ASC").
		Limit(batchSize).
		Find(&pending).Error; err != nil {
		zap.L().Error("failed to load pending payouts", zap.Error(err))
		return nil, err
	}

	result := &DrainResult{}
	for i := range pending {
		entry := &pending[i]

		claimed, err := e.claim(ctx, entry.ID)
		if err != nil {
			zap.L().Error("failed to claim payout entry", zap.String("entry_id", entry.ID), zap.Error(err))
			continue
		}
		if !claimed {
			// another drainer got here first
			continue
		}
		result.Claimed++

		if err := e.execute(ctx, entry); err != nil {
			result.Failed++
			e.markFailed(ctx, entry.ID, err)
			continue
		}
		result.Completed++
	}

	zap.L().Info("payout drain finished",
		zap.Int("claimed", result.Claimed),
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed))

	return result, nil
}

func (e *Executor) claim(ctx context.Context, entryID string) (bool, error) {
	res := e.db.WithContext(ctx).Model(&ledger.PayoutQueueEntry{}).
		Where("id = ? AND status = ?", entryID, ledger.QueueStatusPending).
		Updates(map[string]interface{}{
			"status":     ledger.QueueStatusProcessing,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (e *Executor) execute(ctx context.Context, entry *ledger.PayoutQueueEntry) error {
	code, err := e.seq.NextPayoutCode(ctx)
	if err != nil {
		return err
	}

	externalRef, err := e.psp.CreatePayout(ctx, PayoutRequest{
		EntryID:     entry.ID,
		CreatorID:   entry.CreatorID,
		AmountCents: entry.AmountCents,
		Reference:   code,
	})
	if err != nil {
		return err
	}

	if _, err := e.ledger.AppendEntry(ctx, ledger.AppendParams{
		CampaignID:  entry.CampaignID,
		CreatorID:   entry.CreatorID,
		Type:        entry.Type,
		AmountCents: entry.AmountCents,
		RefEventID:  &entry.ID,
		Description: fmt.Sprintf("payout %s", code),
	}); err != nil {
		return err
	}

	if fee := entry.AmountCents * e.feePercent / 100; fee > 0 {
		if _, err := e.ledger.AppendEntry(ctx, ledger.AppendParams{
			CampaignID:  entry.CampaignID,
			CreatorID:   entry.CreatorID,
			Type:        ledger.EntryTypePlatformFee,
			AmountCents: -fee,
			RefEventID:  &entry.ID,
			Description: fmt.Sprintf("platform fee for payout %s", code),
		}); err != nil {
			zap.L().Error("failed to append platform fee entry",
				zap.String("entry_id", entry.ID),
				zap.Error(err))
		}
	}

	now := time.Now().UTC()
	return e.db.WithContext(ctx).Model(&ledger.PayoutQueueEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"status":       ledger.QueueStatusCompleted,
			"payout_code":  code,
			"external_ref": externalRef,
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

func (e *Executor) markFailed(ctx context.Context, entryID string, cause error) {
	reason := cause.Error()
	if err := e.db.WithContext(ctx).Model(&ledger.PayoutQueueEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{
			"status":         ledger.QueueStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		}).Error; err != nil {
		zap.L().Error("failed to mark payout entry failed", zap.String("entry_id", entryID), zap.Error(err))
	}

	zap.L().Error("payout execution failed",
		zap.String("entry_id", entryID),
		zap.String("reason", reason))
}
