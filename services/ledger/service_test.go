package ledger

import (
	"context"
	"testing"
	"time"

	"trafficguard/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &LedgerEntry{}, &PayoutQueueEntry{})
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node}), db
}

func TestCreatePayoutQueueEntry(t *testing.T) {
	svc, db := newService(t)

	ref := "snap-1"
	res, err := svc.CreatePayoutQueueEntry(context.Background(), EnqueueRequest{
		CreatorID:   "creator-1",
		CampaignID:  "camp-1",
		AmountCents: 50,
		Type:        EntryTypeViewPayout,
		RiskScore:   20,
		RefEventID:  &ref,
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotEmpty(t, res.PayoutQueueID)

	var entry PayoutQueueEntry
	require.NoError(t, db.First(&entry, "id = ?", res.PayoutQueueID).Error)
	require.Equal(t, QueueStatusPending, entry.Status)
	require.Equal(t, int64(50), entry.AmountCents)
	require.Equal(t, 20, entry.RiskScore)
	require.Equal(t, "snap-1", *entry.RefEventID)
}

func TestCreatePayoutQueueEntryRejectsInvariantViolations(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreatePayoutQueueEntry(ctx, EnqueueRequest{CampaignID: "camp-1", AmountCents: 50, Type: EntryTypeViewPayout})
	require.Error(t, err)

	_, err = svc.CreatePayoutQueueEntry(ctx, EnqueueRequest{CreatorID: "creator-1", CampaignID: "camp-1", AmountCents: 0, Type: EntryTypeViewPayout})
	require.Error(t, err)

	_, err = svc.CreatePayoutQueueEntry(ctx, EnqueueRequest{CreatorID: "creator-1", CampaignID: "camp-1", AmountCents: -10, Type: EntryTypeViewPayout})
	require.Error(t, err)

	_, err = svc.CreatePayoutQueueEntry(ctx, EnqueueRequest{CreatorID: "creator-1", CampaignID: "camp-1", AmountCents: 50, Type: EntryTypePlatformFee})
	require.Error(t, err)
}

func TestAppendEntryBuildsHashChain(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.AppendEntry(ctx, AppendParams{
		CampaignID:  "camp-1",
		CreatorID:   "creator-1",
		Type:        EntryTypeViewPayout,
		AmountCents: 100,
		Description: "payout PO-1",
	})
	require.NoError(t, err)
	require.Equal(t, genesisHash, first.PreviousHash)
	require.Equal(t, first.GenerateHash(), first.Hash)

	second, err := svc.AppendEntry(ctx, AppendParams{
		CampaignID:  "camp-1",
		CreatorID:   "creator-1",
		Type:        EntryTypeConversionPayout,
		AmountCents: 40,
	})
	require.NoError(t, err)
	require.Equal(t, first.Hash, second.PreviousHash)

	require.NoError(t, svc.VerifyChain(ctx, "creator-1"))
}

func TestChainsAreIndependentPerCreator(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.AppendEntry(ctx, AppendParams{CampaignID: "camp-1", CreatorID: "creator-1", Type: EntryTypeViewPayout, AmountCents: 100})
	require.NoError(t, err)

	other, err := svc.AppendEntry(ctx, AppendParams{CampaignID: "camp-1", CreatorID: "creator-2", Type: EntryTypeViewPayout, AmountCents: 70})
	require.NoError(t, err)
	require.Equal(t, genesisHash, other.PreviousHash)

	require.NoError(t, svc.VerifyChain(ctx, "creator-1"))
	require.NoError(t, svc.VerifyChain(ctx, "creator-2"))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	entry, err := svc.AppendEntry(ctx, AppendParams{CampaignID: "camp-1", CreatorID: "creator-1", Type: EntryTypeViewPayout, AmountCents: 100})
	require.NoError(t, err)

	require.NoError(t, db.Model(&LedgerEntry{}).Where("id = ?", entry.ID).Update("amount_cents", 100000).Error)

	require.Error(t, svc.VerifyChain(ctx, "creator-1"))
}

func TestReverseAppendsNegatingEntry(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	entry, err := svc.AppendEntry(ctx, AppendParams{CampaignID: "camp-1", CreatorID: "creator-1", Type: EntryTypeViewPayout, AmountCents: 100})
	require.NoError(t, err)

	reversal, err := svc.Reverse(ctx, entry.ID, "chargeback")
	require.NoError(t, err)
	require.Equal(t, EntryTypeReversal, reversal.Type)
	require.Equal(t, int64(-100), reversal.AmountCents)
	require.Equal(t, entry.ID, *reversal.RefEventID)

	require.NoError(t, svc.VerifyChain(ctx, "creator-1"))

	// double reversal is rejected
	_, err = svc.Reverse(ctx, entry.ID, "again")
	require.Error(t, err)

	// reversing a reversal is rejected
	_, err = svc.Reverse(ctx, reversal.ID, "undo the undo")
	require.Error(t, err)
}

func TestCreatorBalanceSplitsByHoldWindow(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	old := LedgerEntry{
		ID:           "old-1",
		CampaignID:   "camp-1",
		CreatorID:    "creator-1",
		Type:         EntryTypeViewPayout,
		AmountCents:  500,
		PreviousHash: genesisHash,
		Hash:         "h1",
		CreatedAt:    time.Now().UTC().Add(-10 * 24 * time.Hour),
	}
	recent := LedgerEntry{
		ID:           "new-1",
		CampaignID:   "camp-1",
		CreatorID:    "creator-1",
		Type:         EntryTypeViewPayout,
		AmountCents:  200,
		PreviousHash: "h1",
		Hash:         "h2",
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
	}
	fee := LedgerEntry{
		ID:           "fee-1",
		CampaignID:   "camp-1",
		CreatorID:    "creator-1",
		Type:         EntryTypePlatformFee,
		AmountCents:  -20,
		PreviousHash: "h2",
		Hash:         "h3",
		CreatedAt:    time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Create(&recent).Error)
	require.NoError(t, db.Create(&fee).Error)

	balance, err := svc.CreatorBalance(ctx, "creator-1", 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance.AvailableCents)
	require.Equal(t, int64(180), balance.PendingCents)
}

func TestCreatorBalanceEmptyLedger(t *testing.T) {
	svc, _ := newService(t)

	balance, err := svc.CreatorBalance(context.Background(), "nobody", 7*24*time.Hour)
	require.NoError(t, err)
	require.Zero(t, balance.AvailableCents)
	require.Zero(t, balance.PendingCents)
}
