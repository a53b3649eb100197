package post

import (
	"context"
	"testing"

	"trafficguard/pkg/quota"
	"trafficguard/services/oracle"

	"github.com/stretchr/testify/require"
)

func TestStatusRefreshUpdatesMetadata(t *testing.T) {
	o := &fakeOracle{
		statuses: map[string]oracle.VideoStatus{
			"v1": {PrivacyStatus: "private", Title: "new title", ThumbnailURL: "http://img/v1"},
			"v2": {PrivacyStatus: "public"},
		},
	}
	svc, db := newTestService(t, o, &fakeEnqueuer{})

	p1 := seedPost(t, db, TrackedPost{ExternalID: "v1", CPMCents: 1000, PrivacyStatus: "public", Title: "old title"})
	p2 := seedPost(t, db, TrackedPost{ExternalID: "v2", CPMCents: 1000, Status: StatusPending, PrivacyStatus: "public"})

	res, err := svc.RunStatusRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed)
	require.Equal(t, 1, res.Updated)

	var got TrackedPost
	require.NoError(t, db.First(&got, "id = ?", p1.ID).Error)
	require.Equal(t, "private", got.PrivacyStatus)
	require.Equal(t, "new title", got.Title)
	require.Equal(t, "http://img/v1", got.ThumbnailURL)

	// unchanged metadata is left alone
	got = TrackedPost{}
	require.NoError(t, db.First(&got, "id = ?", p2.ID).Error)
	require.Equal(t, "public", got.PrivacyStatus)
}

func TestStatusRefreshQuotaCircuitBreaker(t *testing.T) {
	o := &fakeOracle{usage: quota.Usage{Used: 85, Limit: 100, PercentUsed: 85}}
	svc, db := newTestService(t, o, &fakeEnqueuer{})

	seedPost(t, db, TrackedPost{ExternalID: "v1", CPMCents: 1000})

	res, err := svc.RunStatusRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.Processed)
	require.Zero(t, o.statCalls)
}

func TestStatusRefreshSkipsFlaggedPosts(t *testing.T) {
	o := &fakeOracle{
		statuses: map[string]oracle.VideoStatus{
			"v1": {PrivacyStatus: "private"},
		},
	}
	svc, db := newTestService(t, o, &fakeEnqueuer{})

	seedPost(t, db, TrackedPost{ExternalID: "v1", CPMCents: 1000, Status: StatusFlagged, PrivacyStatus: "public"})

	res, err := svc.RunStatusRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.Processed)
}
