package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/naveenchhikara/aegis-notify/internal/store"
	"github.com/naveenchhikara/aegis-notify/pkg/logx"
)

func TestBackoffDelayGrowth(t *testing.T) {
	t.Parallel()
	rc := RetryConfig{MaxAttempts: 5, Base: 30 * time.Second, MaxDelay: 30 * time.Minute, Jitter: 0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{10, 30 * time.Minute}, // capped
	}
	for _, tt := range tests {
		if got := backoffDelay(rc, tt.attempt); got != tt.want {
			t.Fatalf("backoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelayJitterStaysBounded(t *testing.T) {
	t.Parallel()
	rc := RetryConfig{Base: time.Minute, MaxDelay: 30 * time.Minute, Jitter: 0.2}
	for i := 0; i < 200; i++ {
		d := backoffDelay(rc, 2)
		if d < 96*time.Second || d > 144*time.Second {
			t.Fatalf("jittered delay %v outside +/-20%% of 2m", d)
		}
	}
}

func TestConfigDefaultsHonorZeroJitter(t *testing.T) {
	t.Parallel()
	c := Config{Retry: RetryConfig{Jitter: 0}}.withDefaults()
	if c.Retry.Jitter != 0 {
		t.Fatalf("explicit zero jitter overridden to %v", c.Retry.Jitter)
	}
	if got := (Config{Retry: RetryConfig{Jitter: -1}}).withDefaults().Retry.Jitter; got != 0 {
		t.Fatalf("negative jitter clamped to %v, want 0", got)
	}

	// Zero jitter makes backoff fully deterministic.
	rc := RetryConfig{Base: time.Minute, MaxDelay: time.Hour, Jitter: 0}
	for i := 0; i < 10; i++ {
		if d := backoffDelay(rc, 2); d != 2*time.Minute {
			t.Fatalf("backoffDelay with zero jitter = %v, want 2m", d)
		}
	}
}

func TestPermanentWrapping(t *testing.T) {
	t.Parallel()
	base := errors.New("bad recipient")
	if !IsPermanent(Permanent(base)) {
		t.Fatal("Permanent() not detected")
	}
	if IsPermanent(base) {
		t.Fatal("plain error flagged permanent")
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) must be nil")
	}
	// Wrapping survives further annotation.
	wrapped := errors.Join(errors.New("outer"), Permanent(base))
	if !IsPermanent(wrapped) {
		t.Fatal("Permanent() lost through wrapping")
	}
}

func newTestQueue(t *testing.T, cfg Config) (*Service, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory(logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	return New(cfg, st, logx.Nop()), st
}

func waitForState(t *testing.T, st *store.Store, jobID string, want store.JobState) store.Job {
	t.Helper()
	var j store.Job
	require.Eventually(t, func() bool {
		var err error
		j, err = st.GetJob(context.Background(), jobID)
		return err == nil && j.State == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached state %s", jobID, want)
	return j
}

func TestQueueCompletesJob(t *testing.T) {
	q, st := newTestQueue(t, Config{Workers: 1})
	ctx := context.Background()

	ran := make(chan store.Job, 1)
	q.Register(store.JobSendImmediate, func(ctx context.Context, j store.Job) error {
		ran <- j
		return nil
	})

	q.Start(ctx)
	defer q.Stop(ctx)

	id, err := q.Enqueue(ctx, store.JobSendImmediate, map[string]string{"event_id": "e1"})
	require.NoError(t, err)

	select {
	case j := <-ran:
		require.Equal(t, id, j.ID)
		require.Equal(t, 1, j.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}
	waitForState(t, st, id, store.JobCompleted)
}

func TestQueueRetriesThenDeadLetters(t *testing.T) {
	q, st := newTestQueue(t, Config{
		Workers: 1,
		Retry:   RetryConfig{MaxAttempts: 3, Base: time.Millisecond, MaxDelay: 2 * time.Millisecond, Jitter: 0.01},
	})
	ctx := context.Background()

	var runs atomic.Int32
	done := make(chan struct{})
	q.Register(store.JobSendImmediate, func(ctx context.Context, j store.Job) error {
		if runs.Add(1) == 3 {
			close(done)
		}
		return errors.New("provider 503")
	})

	q.Start(ctx)
	defer q.Stop(ctx)

	id, err := q.Enqueue(ctx, store.JobSendImmediate, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected 3 attempts, saw %d", runs.Load())
	}

	j := waitForState(t, st, id, store.JobDeadLettered)
	require.Equal(t, 3, j.Attempts, "dead-letter after exactly MaxAttempts tries")
	require.Contains(t, j.LastError, "provider 503")
}

func TestQueueDeadLettersPermanentImmediately(t *testing.T) {
	q, st := newTestQueue(t, Config{
		Workers: 1,
		Retry:   RetryConfig{MaxAttempts: 5, Base: time.Hour},
	})
	ctx := context.Background()

	q.Register(store.JobSendImmediate, func(ctx context.Context, j store.Job) error {
		return Permanent(errors.New("recipient rejected"))
	})

	q.Start(ctx)
	defer q.Stop(ctx)

	id, err := q.Enqueue(ctx, store.JobSendImmediate, nil)
	require.NoError(t, err)

	j := waitForState(t, st, id, store.JobDeadLettered)
	require.Equal(t, 1, j.Attempts, "no retries for permanent failures")
}

func TestQueueDeadLettersUnknownType(t *testing.T) {
	q, st := newTestQueue(t, Config{Workers: 1})
	ctx := context.Background()

	// No handler registered for this type.
	q.Start(ctx)
	defer q.Stop(ctx)

	id, err := q.Enqueue(ctx, store.JobType("mystery"), nil)
	require.NoError(t, err)

	j := waitForState(t, st, id, store.JobDeadLettered)
	require.Contains(t, j.LastError, "no handler")
}
