package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/naveenchhikara/aegis-notify/internal/notify"
	"github.com/naveenchhikara/aegis-notify/pkg/logx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenMemory(logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestClaimJobExclusive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.InsertJob(ctx, Job{
		ID: "j1", Type: JobSendImmediate, RunAt: now.Add(-time.Second), MaxAttempts: 5,
	}))

	j, ok, err := st.ClaimJob(ctx, "w1", time.Minute, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "j1", j.ID)
	require.Equal(t, JobActive, j.State)
	require.Equal(t, 1, j.Attempts, "claim must count as an attempt")

	// A second worker finds nothing while the lease is live.
	_, ok, err = st.ClaimJob(ctx, "w2", time.Minute, now)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClaimJobSkipsFutureJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.InsertJob(ctx, Job{
		ID: "j-later", Type: JobSendImmediate, RunAt: now.Add(time.Hour), MaxAttempts: 5,
	}))

	_, ok, err := st.ClaimJob(ctx, "w1", time.Minute, now)
	require.NoError(t, err)
	require.False(t, ok, "job due in the future must not be claimable")
}

func TestClaimJobRecoversExpiredLease(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.InsertJob(ctx, Job{
		ID: "j1", Type: JobSendImmediate, RunAt: now.Add(-time.Second), MaxAttempts: 5,
	}))

	_, ok, err := st.ClaimJob(ctx, "w1", time.Minute, now)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate a crashed worker: the clock moves past the lease expiry and
	// another worker re-claims the same job.
	later := now.Add(2 * time.Minute)
	j, ok, err := st.ClaimJob(ctx, "w2", time.Minute, later)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "j1", j.ID)
	require.Equal(t, "w2", j.LeasedBy)
	require.Equal(t, 2, j.Attempts, "re-claim after crash still burns an attempt")
}

func TestStaleHolderCannotFinishJob(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.InsertJob(ctx, Job{
		ID: "j1", Type: JobSendImmediate, RunAt: now.Add(-time.Second), MaxAttempts: 5,
	}))
	_, ok, err := st.ClaimJob(ctx, "w1", time.Minute, now)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = st.ClaimJob(ctx, "w2", time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	// w1 wakes up after losing the lease; every terminal transition is gated.
	require.ErrorIs(t, st.CompleteJob(ctx, "j1", "w1"), ErrNotLeaseHolder)
	require.ErrorIs(t, st.RetryJob(ctx, "j1", "w1", "late", now), ErrNotLeaseHolder)
	require.ErrorIs(t, st.DeadLetterJob(ctx, "j1", "w1", "late"), ErrNotLeaseHolder)

	require.NoError(t, st.CompleteJob(ctx, "j1", "w2"))
}

func TestRetryThenDeadLetterTransitions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.InsertJob(ctx, Job{
		ID: "j1", Type: JobSendImmediate, RunAt: now.Add(-time.Second), MaxAttempts: 2,
	}))

	_, ok, err := st.ClaimJob(ctx, "w1", time.Minute, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.RetryJob(ctx, "j1", "w1", "provider 503", now.Add(-time.Millisecond)))

	j, err := st.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, JobPending, j.State)
	require.Equal(t, "provider 503", j.LastError)

	j, ok, err = st.ClaimJob(ctx, "w1", time.Minute, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, j.Attempts)
	require.NoError(t, st.DeadLetterJob(ctx, "j1", "w1", "provider 503"))

	j, err = st.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, JobDeadLettered, j.State)

	// Dead-lettered jobs never come back.
	_, ok, err = st.ClaimJob(ctx, "w1", time.Minute, now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMarkDeliveredConsumesOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	ev := Event{
		ID: "e1", RecipientID: "u1", Kind: notify.KindFindingCreated,
		BatchKey: "u1|audit-plan|9", Cadence: notify.CadenceDaily,
		Payload: []byte(`{"title":"t"}`), CreatedAt: now,
	}
	require.NoError(t, st.InsertEvent(ctx, ev))

	require.NoError(t, st.MarkDelivered(ctx, []string{"e1"}, DeliveryAttempt{
		JobID: "j1", Attempt: 1, Outcome: "success", ProviderMsgID: "m1",
	}))

	got, err := st.GetEvent(ctx, "e1")
	require.NoError(t, err)
	require.True(t, got.Consumed())
	first := *got.ConsumedAt

	// A replay must not move the consumption timestamp.
	require.NoError(t, st.MarkDelivered(ctx, []string{"e1"}, DeliveryAttempt{
		JobID: "j1", Attempt: 2, Outcome: "success",
	}))
	got, err = st.GetEvent(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, first, *got.ConsumedAt)

	atts, err := st.ListAttempts(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, atts, 2, "every try is recorded, replay included")
}

func TestPendingEventsWindowAndOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, st.InsertEvent(ctx, Event{
			ID: id, RecipientID: "u1", Kind: notify.KindFindingCreated,
			BatchKey: "k", Cadence: notify.CadenceDaily,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// Different cadence: excluded.
	require.NoError(t, st.InsertEvent(ctx, Event{
		ID: "e-weekly", RecipientID: "u1", Kind: notify.KindFindingCreated,
		BatchKey: "k", Cadence: notify.CadenceWeekly, CreatedAt: base,
	}))
	// Outside the window: excluded.
	require.NoError(t, st.InsertEvent(ctx, Event{
		ID: "e-old", RecipientID: "u1", Kind: notify.KindFindingCreated,
		BatchKey: "k", Cadence: notify.CadenceDaily, CreatedAt: base.Add(-24 * time.Hour),
	}))

	events, err := st.PendingEvents(ctx, "u1", notify.CadenceDaily, base.Add(-time.Minute), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "e1", events[0].ID)
	require.Equal(t, "e3", events[2].ID)

	recipients, err := st.PendingRecipients(ctx, notify.CadenceDaily, base.Add(-time.Minute), base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, recipients)
}

func TestGetPreferenceWritesLazyDefault(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p, err := st.GetPreference(ctx, "u-new")
	require.NoError(t, err)
	require.True(t, p.EmailEnabled)
	require.Equal(t, notify.CadenceDaily, p.Digest)

	// Update sticks.
	p.Digest = notify.CadenceWeekly
	require.NoError(t, st.PutPreference(ctx, p))
	p, err = st.GetPreference(ctx, "u-new")
	require.NoError(t, err)
	require.Equal(t, notify.CadenceWeekly, p.Digest)
}

func TestDeadlineSweepLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	d := Deadline{
		ID: "d1", RecipientID: "u1", Title: "Q3 control review",
		DueAt:   now.Add(24 * time.Hour),
		Context: notify.Context{Type: "control", ID: "17"},
	}
	require.NoError(t, st.UpsertDeadline(ctx, d))

	due, err := st.DueDeadlines(ctx, now, 72*time.Hour)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, st.MarkSwept(ctx, "d1", now))
	due, err = st.DueDeadlines(ctx, now, 72*time.Hour)
	require.NoError(t, err)
	require.Empty(t, due, "swept deadlines drop out of the sweep")

	// Refreshing the deadline clears the swept marker.
	d.DueAt = now.Add(48 * time.Hour)
	require.NoError(t, st.UpsertDeadline(ctx, d))
	due, err = st.DueDeadlines(ctx, now, 72*time.Hour)
	require.NoError(t, err)
	require.Len(t, due, 1)
}

func TestGetJobNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
