package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/naveenchhikara/aegis-notify/internal/digest"
	"github.com/naveenchhikara/aegis-notify/internal/intake"
	"github.com/naveenchhikara/aegis-notify/internal/mailer"
	"github.com/naveenchhikara/aegis-notify/internal/notify"
	"github.com/naveenchhikara/aegis-notify/internal/queue"
	"github.com/naveenchhikara/aegis-notify/internal/store"
	"github.com/naveenchhikara/aegis-notify/pkg/logx"
)

type fixture struct {
	store   *store.Store
	adapter *mailer.RecordingAdapter
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenMemory(logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	adapter := &mailer.RecordingAdapter{}
	comp := digest.NewCompiler(st, mailer.DomainDirectory{Domain: "example.com"}, logx.Nop())
	q := queue.New(queue.Config{}, st, logx.Nop())
	in := intake.New(st, q, intake.StaticRoles{}, logx.Nop())

	svc := New(Config{SweepHorizon: 72 * time.Hour, ReportRecipient: "ops@example.com"},
		st, comp, adapter, in, logx.Nop())
	return &fixture{store: st, adapter: adapter, svc: svc}
}

func (f *fixture) insertEvent(t *testing.T, id, recipient string, kind notify.EventKind, cadence notify.Cadence, key string, at time.Time) {
	t.Helper()
	require.NoError(t, f.store.InsertEvent(context.Background(), store.Event{
		ID: id, RecipientID: recipient, Kind: kind, BatchKey: key,
		Cadence: cadence, Payload: []byte(`{"title":"T ` + id + `"}`), CreatedAt: at,
	}))
}

func sendJob(eventID string) store.Job {
	b, _ := json.Marshal(store.SendImmediatePayload{EventID: eventID})
	return store.Job{ID: "job-" + eventID, Type: store.JobSendImmediate, Payload: b, Attempts: 1}
}

func digestJob(windowEnd time.Time) store.Job {
	b, _ := json.Marshal(store.CompileDigestPayload{WindowEnd: windowEnd})
	return store.Job{ID: "job-digest", Type: store.JobCompileDailyDigest, Payload: b, Attempts: 1}
}

func TestSendImmediateDeliversAndConsumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertEvent(t, "e1", "u1", notify.KindRoleChanged, notify.CadenceImmediate, "u1|user|u1", time.Now())

	require.NoError(t, f.svc.SendImmediate(ctx, sendJob("e1")))

	sent := f.adapter.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "u1@example.com", sent[0].To)

	ev, err := f.store.GetEvent(ctx, "e1")
	require.NoError(t, err)
	require.True(t, ev.Consumed())

	atts, err := f.store.ListAttempts(ctx, "job-e1")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	require.Equal(t, "success", atts[0].Outcome)
}

func TestSendImmediateReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertEvent(t, "e1", "u1", notify.KindRoleChanged, notify.CadenceImmediate, "u1|user|u1", time.Now())

	require.NoError(t, f.svc.SendImmediate(ctx, sendJob("e1")))
	// The lease expired mid-run and another worker replays the job.
	require.NoError(t, f.svc.SendImmediate(ctx, sendJob("e1")))

	require.Len(t, f.adapter.Sent(), 1, "replay must not send a second email")
}

func TestSendImmediateBadPayloadIsPermanent(t *testing.T) {
	f := newFixture(t)
	err := f.svc.SendImmediate(context.Background(), store.Job{
		ID: "j1", Type: store.JobSendImmediate, Payload: []byte(`{broken`), Attempts: 1,
	})
	require.Error(t, err)
	require.True(t, queue.IsPermanent(err), "retrying a bad payload cannot help")
}

func TestSendImmediateMissingEventIsPermanent(t *testing.T) {
	f := newFixture(t)
	err := f.svc.SendImmediate(context.Background(), sendJob("no-such-event"))
	require.Error(t, err)
	require.True(t, queue.IsPermanent(err))
}

func TestSendImmediateTransientFailureLeavesEventPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insertEvent(t, "e1", "u1", notify.KindRoleChanged, notify.CadenceImmediate, "u1|user|u1", time.Now())

	f.adapter.FailWith = &mailer.SendError{Kind: mailer.ErrTransient, Code: "http-503"}
	err := f.svc.SendImmediate(ctx, sendJob("e1"))
	require.Error(t, err)
	require.False(t, queue.IsPermanent(err), "transient failures stay retryable")

	ev, err := f.store.GetEvent(ctx, "e1")
	require.NoError(t, err)
	require.False(t, ev.Consumed(), "failed send must not consume the event")

	atts, err := f.store.ListAttempts(ctx, "job-e1")
	require.NoError(t, err)
	require.Len(t, atts, 1, "the failed try is still recorded")
	require.Equal(t, "transient", atts[0].Outcome)
}

func TestCompileDigestsOneMessagePerRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	f.insertEvent(t, "e1", "u1", notify.KindFindingCreated, notify.CadenceDaily, "u1|plan|1", now.Add(-2*time.Hour))
	f.insertEvent(t, "e2", "u1", notify.KindFindingCreated, notify.CadenceDaily, "u1|plan|1", now.Add(-time.Hour))
	f.insertEvent(t, "e3", "u2", notify.KindEvidenceUploaded, notify.CadenceDaily, "u2|req|1", now.Add(-time.Hour))

	require.NoError(t, f.svc.CompileDigests(ctx, digestJob(now), notify.CadenceDaily, 24*time.Hour))

	sent := f.adapter.Sent()
	require.Len(t, sent, 2, "one consolidated message per recipient")

	for _, id := range []string{"e1", "e2", "e3"} {
		ev, err := f.store.GetEvent(ctx, id)
		require.NoError(t, err)
		require.True(t, ev.Consumed(), "event %s", id)
	}

	// The next firing sees nothing left.
	f2 := f.adapter.Sent()
	require.NoError(t, f.svc.CompileDigests(ctx, digestJob(now.Add(time.Minute)), notify.CadenceDaily, 24*time.Hour))
	require.Len(t, f.adapter.Sent(), len(f2), "consumed events never resurface")
}

func TestCompileDigestsRetryCoversOnlyMissedRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	f.insertEvent(t, "e1", "u1", notify.KindFindingCreated, notify.CadenceDaily, "u1|plan|1", now.Add(-time.Hour))
	f.insertEvent(t, "e2", "u2", notify.KindFindingCreated, notify.CadenceDaily, "u2|plan|1", now.Add(-time.Hour))

	// First recipient's send fails, second succeeds.
	f.adapter.FailWith = &mailer.SendError{Kind: mailer.ErrTransient, Code: "http-503"}
	f.adapter.FailCount = 1

	err := f.svc.CompileDigests(ctx, digestJob(now), notify.CadenceDaily, 24*time.Hour)
	require.Error(t, err, "a partially failed run must fail so the queue retries it")
	require.Len(t, f.adapter.Sent(), 1)

	// The retry re-sends only the recipient whose events are still pending.
	require.NoError(t, f.svc.CompileDigests(ctx, digestJob(now), notify.CadenceDaily, 24*time.Hour))
	require.Len(t, f.adapter.Sent(), 2)
}

func TestCompileDigestsPermanentOnlyRunIsPermanent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	f.insertEvent(t, "e1", "u1", notify.KindFindingCreated, notify.CadenceDaily, "u1|plan|1", now.Add(-time.Hour))

	// The provider rejects the recipient outright; retrying the run would
	// only repeat the same rejected call, so the job must dead-letter.
	f.adapter.FailWith = &mailer.SendError{Kind: mailer.ErrPermanent, Code: "http-400"}
	err := f.svc.CompileDigests(ctx, digestJob(now), notify.CadenceDaily, 24*time.Hour)
	require.Error(t, err)
	require.True(t, queue.IsPermanent(err), "permanent-only run must carry the permanent marker")
}

func TestCompileDigestsMixedFailuresStayRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	f.insertEvent(t, "e1", "u1", notify.KindFindingCreated, notify.CadenceDaily, "u1|plan|1", now.Add(-time.Hour))
	f.insertEvent(t, "e2", "u2", notify.KindFindingCreated, notify.CadenceDaily, "u2|plan|1", now.Add(-time.Hour))

	// One rejected recipient, one throttled: the throttled one deserves a
	// retry, so the run must not be marked permanent.
	f.adapter.Script = []error{
		&mailer.SendError{Kind: mailer.ErrPermanent, Code: "http-400"},
		&mailer.SendError{Kind: mailer.ErrTransient, Code: "http-429"},
	}
	err := f.svc.CompileDigests(ctx, digestJob(now), notify.CadenceDaily, 24*time.Hour)
	require.Error(t, err)
	require.False(t, queue.IsPermanent(err))
}

func TestCompileDigestsEmptyWindowIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.CompileDigests(context.Background(), digestJob(time.Now()), notify.CadenceDaily, 24*time.Hour))
	require.Empty(t, f.adapter.Sent())
}

func TestCompileDigestsPinnedWindowIgnoresLateEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	windowEnd := time.Now().Add(-time.Minute)

	// Arrived after the pinned window end: belongs to the next digest.
	f.insertEvent(t, "e-late", "u1", notify.KindFindingCreated, notify.CadenceDaily, "u1|plan|1", windowEnd.Add(30*time.Second))

	require.NoError(t, f.svc.CompileDigests(ctx, digestJob(windowEnd), notify.CadenceDaily, 24*time.Hour))
	require.Empty(t, f.adapter.Sent())

	ev, err := f.store.GetEvent(ctx, "e-late")
	require.NoError(t, err)
	require.False(t, ev.Consumed())
}

func TestDeadlineSweepRaisesEventsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, f.store.UpsertDeadline(ctx, store.Deadline{
		ID: "d1", RecipientID: "u1", Title: "Q3 control review",
		DueAt:   now.Add(24 * time.Hour),
		Context: notify.Context{Type: "control", ID: "17"},
	}))
	// Far outside the horizon: ignored.
	require.NoError(t, f.store.UpsertDeadline(ctx, store.Deadline{
		ID: "d2", RecipientID: "u1", Title: "Next year",
		DueAt: now.Add(365 * 24 * time.Hour),
	}))

	job := store.Job{ID: "job-sweep", Type: store.JobDeadlineSweep, Attempts: 1}
	require.NoError(t, f.svc.DeadlineSweep(ctx, job))

	events, err := f.store.PendingEvents(ctx, "u1", notify.CadenceDaily, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, notify.KindDeadlineApproaching, events[0].Kind)

	// A second sweep does not duplicate the notification.
	require.NoError(t, f.svc.DeadlineSweep(ctx, job))
	events, err = f.store.PendingEvents(ctx, "u1", notify.CadenceDaily, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestGenerateReportListsDeadLetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, f.store.InsertJob(ctx, store.Job{
		ID: "j-dead", Type: store.JobSendImmediate, RunAt: now.Add(-time.Hour), MaxAttempts: 1,
	}))
	_, ok, err := f.store.ClaimJob(ctx, "w1", time.Minute, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.store.DeadLetterJob(ctx, "j-dead", "w1", "provider rejected"))

	job := store.Job{ID: "job-report", Type: store.JobReportGenerate, Payload: []byte(`{}`), Attempts: 1}
	require.NoError(t, f.svc.GenerateReport(ctx, job))

	sent := f.adapter.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "ops@example.com", sent[0].To)
	require.Contains(t, sent[0].TextBody, "j-dead")
	require.Contains(t, sent[0].TextBody, "provider rejected")
}

func TestGenerateReportSkipsWithoutRecipient(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.ReportRecipient = ""
	require.NoError(t, f.svc.GenerateReport(context.Background(), store.Job{ID: "j", Payload: []byte(`{}`)}))
	require.Empty(t, f.adapter.Sent())
}
