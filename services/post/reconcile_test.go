package post

import (
	"context"
	"errors"
	"testing"
	"time"

	"trafficguard/pkg/config"
	"trafficguard/pkg/quota"
	"trafficguard/services/campaign"
	"trafficguard/services/ledger"
	"trafficguard/services/oracle"
	"trafficguard/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeOracle struct {
	stats     map[string]*oracle.VideoStatistics
	statsErr  map[string]error
	statuses  map[string]oracle.VideoStatus
	usage     quota.Usage
	statCalls int
	onStats   func()
}

func (f *fakeOracle) GetVideoStatistics(ctx context.Context, externalID string) (*oracle.VideoStatistics, error) {
	f.statCalls++
	if f.onStats != nil {
		f.onStats()
	}
	if err, ok := f.statsErr[externalID]; ok {
		return nil, err
	}
	if s, ok := f.stats[externalID]; ok {
		return s, nil
	}
	return nil, errors.New("video not found")
}

func (f *fakeOracle) FetchBatchVideoStatus(ctx context.Context, externalIDs []string) (map[string]oracle.VideoStatus, error) {
	f.statCalls++
	return f.statuses, nil
}

func (f *fakeOracle) QuotaUsage(ctx context.Context) (quota.Usage, error) {
	return f.usage, nil
}

type fakeEnqueuer struct {
	requests []ledger.EnqueueRequest
	fail     bool
}

func (f *fakeEnqueuer) CreatePayoutQueueEntry(ctx context.Context, req ledger.EnqueueRequest) (ledger.EnqueueResult, error) {
	if f.fail {
		return ledger.EnqueueResult{}, errors.New("payout queue unavailable")
	}
	f.requests = append(f.requests, req)
	return ledger.EnqueueResult{Success: true, PayoutQueueID: "pq-1"}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Fraud.MaxGrowthPercent = 300
	cfg.Fraud.MaxHourlyViews = 10000
	cfg.Fraud.MinTrustScore = 30
	cfg.Fraud.QuotaAbortPercent = 80
	cfg.Jobs.ReconcileBatchSize = 50
	cfg.Jobs.RefreshBatchSize = 50
	return cfg
}

func newTestService(t *testing.T, o oracle.Client, enq PayoutEnqueuer) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &TrackedPost{}, &ViewSnapshot{}, &campaign.Campaign{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParams{
		DB:      db,
		Node:    node,
		Oracle:  o,
		Payouts: enq,
		Config:  testConfig(),
	})
	return svc, db
}

func seedPost(t *testing.T, db *gorm.DB, p TrackedPost) TrackedPost {
	t.Helper()
	if p.ID == "" {
		p.ID = "post-" + p.ExternalID
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func TestReconcileQuotaCircuitBreaker(t *testing.T) {
	o := &fakeOracle{usage: quota.Usage{Used: 81, Limit: 100, PercentUsed: 81}}
	svc, db := newTestService(t, o, &fakeEnqueuer{})

	seedPost(t, db, TrackedPost{ExternalID: "v1", CPMCents: 1000, LastCheckedViews: 1000, CurrentViews: 1000, TrustScoreSnapshot: 80})

	res, err := svc.RunReconciliation(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 0, res.Processed)
	require.Zero(t, o.statCalls)
	require.InDelta(t, 81.0, res.QuotaUsage.PercentUsed, 0.001)
}

func TestReconcileValidatedDeltaEnqueuesPayout(t *testing.T) {
	o := &fakeOracle{
		stats: map[string]*oracle.VideoStatistics{
			"v1": {ViewCount: 1050, LikeCount: 40, CommentCount: 9},
		},
	}
	enq := &fakeEnqueuer{}
	svc, db := newTestService(t, o, enq)

	p := seedPost(t, db, TrackedPost{ExternalID: "v1", CPMCents: 1000, LastCheckedViews: 1000, CurrentViews: 1000, TrustScoreSnapshot: 80})

	res, err := svc.RunReconciliation(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 1, res.ValidatedDeltas)
	require.Equal(t, 0, res.FlaggedPosts)

	// 50 views * 1000 cents CPM / 1000 * 1.0 trust multiplier
	require.Len(t, enq.requests, 1)
	require.Equal(t, int64(50), enq.requests[0].AmountCents)
	require.Equal(t, ledger.EntryTypeViewPayout, enq.requests[0].Type)
	require.Equal(t, 20, enq.requests[0].RiskScore)

	var got TrackedPost
	require.NoError(t, db.First(&got, "id = ?", p.ID).Error)
	require.Equal(t, int64(1050), got.CurrentViews)
	require.Equal(t, int64(1050), got.LastCheckedViews)
	require.Equal(t, int64(50), got.TotalValidatedViews)
	require.Equal(t, StatusActive, got.Status)

	var snap ViewSnapshot
	require.NoError(t, db.First(&snap, "post_id = ?", p.ID).Error)
	require.True(t, snap.IsValidated)
	require.Equal(t, int64(50), snap.DeltaViews)
	require.NotNil(t, snap.PayoutAmountCents)
	require.Equal(t, int64(50), *snap.PayoutAmountCents)
	require.NotNil(t, snap.PayoutQueueID)
	require.Equal(t, "pq-1", *snap.PayoutQueueID)
}

func TestReconcileTrustMultiplierAttenuatesPayout(t *testing.T) {
	o := &fakeOracle{
		stats: map[string]*oracle.VideoStatistics{
			"v1": {ViewCount: 1100},
		},
	}
	enq := &fakeEnqueuer{}
	svc, db := newTestService(t, o, enq)

	seedPost(t, db, TrackedPost{ExternalID: "v1", CPMCents: 2000, LastCheckedViews: 1000, CurrentViews: 1000, TrustScoreSnapshot: 55})

	_, err := svc.RunReconciliation(context.Background(), 0)
	require.NoError(t, err)

	// floor(100 * 2000/1000 * 0.8) = 160
	require.Len(t, enq.requests, 1)
	require.Equal(t, int64(160), enq.requests[0].AmountCents)
	require.Equal(t, 45, enq.requests[0].RiskScore)
}

func TestReconcileExcessiveGrowthFlagsPost(t *testing.T) {
	o := &fakeOracle{
		stats: map[string]*oracle.VideoStatistics{
			"v1": {ViewCount: 5000},
		},
	}
	enq := &fakeEnqueuer{}
	svc, db := newTestService(t, o, enq)

	p := seedPost(t, db, TrackedPost{ExternalID: "v1", CPMCents: 1000, LastCheckedViews: 1000, CurrentViews: 1000, TrustScoreSnapshot: 80})

	res, err := svc.RunReconciliation(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.FlaggedPosts)
	require.Empty(t, enq.requests)

	var got TrackedPost
	require.NoError(t, db.First(&got, "id = ?", p.ID).Error)
	require.Equal(t, StatusFlagged, got.Status)
	require.NotNil(t, got.FlagReason)
	require.Contains(t, *got.FlagReason, "exceeds maximum 300%")
	// counters still track platform truth
	require.Equal(t, int64(5000), got.CurrentViews)
	require.Zero(t, got.TotalValidatedViews)

	var snap ViewSnapshot
	require.NoError(t, db.First(&snap, "post_id = ?", p.ID).Error)
	require.False(t, snap.IsValidated)
	require.True(t, snap.IsFlagged)
}

func TestReconcileCountersSurviveConcurrentPause(t *testing.T) {
	o := &fakeOracle{
		stats: map[string]*oracle.VideoStatistics{
			"v1": {ViewCount: 5000},
		},
	}
	enq := &fakeEnqueuer{}
	svc, db := newTestService(t, o, enq)

	p := seedPost(t, db, TrackedPost{ExternalID: "v1", CPMCents: 1000, LastCheckedViews: 1000, CurrentViews: 1000, TrustScoreSnapshot: 80})

	// an operator pauses the post after it was selected for this cycle
	o.onStats = func() {
		require.NoError(t, db.Model(&TrackedPost{}).Where("id = ?", p.ID).Update("status", StatusPaused).Error)
	}

	res, err := svc.RunReconciliation(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 0, res.FlaggedPosts)

	var got TrackedPost
	require.NoError(t, db.First(&got, "id = ?", p.ID).Error)
	require.Equal(t, StatusPaused, got.Status)
	require.Nil(t, got.FlagReason)
	// the missed transition never drops the observed counters
	require.Equal(t, int64(5000), got.CurrentViews)
	require.Equal(t, int64(5000), got.LastCheckedViews)
	require.NotNil(t, got.LastCheckedAt)
}

func TestReconcileSecondRunZeroDelta(t *testing.T) {
	o := &fakeOracle{
		stats: map[string]*oracle.VideoStatistics{
			"v1": {ViewCount: 1050},
		},
	}
	enq := &fakeEnqueuer{}
	svc, db := newTestService(t, o, enq)

	p := seedPost(t, db, TrackedPost{ExternalID: "v1", CPMCents: 1000, LastCheckedViews: 1000, CurrentViews: 1000, TrustScoreSnapshot: 80})

	_, err := svc.RunReconciliation(context.Background(), 0)
	require.NoError(t, err)

	res, err := svc.RunReconciliation(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 0, res.ValidatedDeltas)
	require.Equal(t, 0, res.FlaggedPosts)

	var snaps []ViewSnapshot
	require.NoError(t, db.Order("checked_at ASC").Find(&snaps, "post_id = ?", p.ID).Error)
	require.Len(t, snaps, 2)
	require.Equal(t, int64(0), snaps[1].DeltaViews)
	require.False(t, snaps[1].IsValidated)
	require.Equal(t, "No view growth", snaps[1].ValidationReason)
	require.False(t, snaps[1].IsFlagged)

	var got TrackedPost
	require.NoError(t, db.First(&got, "id = ?", p.ID).Error)
	require.Equal(t, StatusActive, got.Status)
	require.Equal(t, int64(50), got.TotalValidatedViews)
	require.Len(t, enq.requests, 1)
}

func TestReconcileEnqueueFailureKeepsValidatedViews(t *testing.T) {
	o := &fakeOracle{
		stats: map[string]*oracle.VideoStatistics{
			"v1": {ViewCount: 1050},
		},
	}
	svc, db := newTestService(t, o, &fakeEnqueuer{fail: true})

	p := seedPost(t, db, TrackedPost{ExternalID: "v1", CPMCents: 1000, LastCheckedViews: 1000, CurrentViews: 1000, TrustScoreSnapshot: 80})

	res, err := svc.RunReconciliation(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.ValidatedDeltas)

	var got TrackedPost
	require.NoError(t, db.First(&got, "id = ?", p.ID).Error)
	require.Equal(t, int64(50), got.TotalValidatedViews)

	var snap ViewSnapshot
	require.NoError(t, db.First(&snap, "post_id = ?", p.ID).Error)
	require.True(t, snap.IsValidated)
	require.Nil(t, snap.PayoutAmountCents)
	require.Nil(t, snap.PayoutQueueID)

	// the gap is discoverable for the out-of-band sweep
	unpaid, err := svc.FindUnpaidValidatedSnapshots(context.Background(), time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	require.Equal(t, snap.ID, unpaid[0].ID)
}

func TestReconcileOracleFailureIsolated(t *testing.T) {
	o := &fakeOracle{
		stats: map[string]*oracle.VideoStatistics{
			"v2": {ViewCount: 2100},
		},
		statsErr: map[string]error{
			"v1": errors.New("oracle timeout"),
		},
	}
	enq := &fakeEnqueuer{}
	svc, db := newTestService(t, o, enq)

	earlier := time.Now().UTC().Add(-2 * time.Hour)
	later := time.Now().UTC().Add(-time.Hour)
	seedPost(t, db, TrackedPost{ExternalID: "v1", CPMCents: 1000, LastCheckedViews: 1000, CurrentViews: 1000, TrustScoreSnapshot: 80, LastCheckedAt: &earlier})
	seedPost(t, db, TrackedPost{ExternalID: "v2", CPMCents: 1000, LastCheckedViews: 2000, CurrentViews: 2000, TrustScoreSnapshot: 80, LastCheckedAt: &later})

	res, err := svc.RunReconciliation(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)
	require.Equal(t, 1, res.ValidatedDeltas)

	require.Len(t, res.Results, 2)
	require.False(t, res.Results[0].Success)
	require.Contains(t, res.Results[0].Error, "oracle timeout")
	require.True(t, res.Results[1].Success)
}

func TestReconcileSkipsNonActivePosts(t *testing.T) {
	o := &fakeOracle{
		stats: map[string]*oracle.VideoStatistics{
			"v1": {ViewCount: 9999},
		},
	}
	svc, db := newTestService(t, o, &fakeEnqueuer{})

	seedPost(t, db, TrackedPost{ExternalID: "v1", CPMCents: 1000, Status: StatusFlagged, LastCheckedViews: 1000, CurrentViews: 1000})

	res, err := svc.RunReconciliation(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 0, res.Processed)
	require.Zero(t, o.statCalls)
}

func TestReconcileBudgetCapUsesCampaignBudget(t *testing.T) {
	o := &fakeOracle{
		stats: map[string]*oracle.VideoStatistics{
			"v1": {ViewCount: 1060},
		},
	}
	enq := &fakeEnqueuer{}
	svc, db := newTestService(t, o, enq)

	budget := int64(50000) // implies a 50-view cap
	require.NoError(t, db.Create(&campaign.Campaign{
		CampaignID:       "camp-1",
		AdvertiserID:     "adv-1",
		Name:             "launch",
		Status:           campaign.StatusActive,
		DailyBudgetCents: &budget,
	}).Error)

	p := seedPost(t, db, TrackedPost{ExternalID: "v1", CampaignID: "camp-1", CPMCents: 1000, LastCheckedViews: 1000, CurrentViews: 1000, TrustScoreSnapshot: 80})

	res, err := svc.RunReconciliation(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.FlaggedPosts)
	require.Empty(t, enq.requests)

	var got TrackedPost
	require.NoError(t, db.First(&got, "id = ?", p.ID).Error)
	require.Equal(t, StatusFlagged, got.Status)
	require.Contains(t, *got.FlagReason, "daily budget cap")
}
