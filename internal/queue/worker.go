package queue

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/naveenchhikara/aegis-notify/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, idx int) {
	workerID := fmt.Sprintf("%s-%d", s.workerPrefix, idx)
	log := s.log.With(logx.String("worker", workerID))

	cfg := s.snapshot()
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		claimed := s.claimAndRun(ctx, workerID, log)
		if claimed {
			// Drain: try the next due job immediately.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// claimAndRun claims at most one job and processes it, reporting whether a
// job was claimed.
func (s *Service) claimAndRun(ctx context.Context, workerID string, log logx.Logger) bool {
	cfg := s.snapshot()

	job, ok, err := s.store.ClaimJob(ctx, workerID, cfg.Lease, time.Now())
	if err != nil {
		log.Warn("claim failed", logx.Err(err))
		return false
	}
	if !ok {
		return false
	}

	start := time.Now()
	jlog := log.With(logx.String("job", job.ID), logx.String("type", string(job.Type)), logx.Int("attempt", job.Attempts))

	h, found := s.handlerFor(job.Type)
	if !found {
		// Closed job-type set; an unknown type can only come from a bad
		// deploy. Dead-letter it so it is visible, not retried forever.
		jlog.Error("no handler for job type")
		if err := s.store.DeadLetterJob(ctx, job.ID, workerID, ErrUnknownType.Error()); err != nil {
			jlog.Warn("dead-letter failed", logx.Err(err))
		}
		return true
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
	err = h(runCtx, job)
	cancel()

	dur := time.Since(start)
	if err == nil {
		if cerr := s.store.CompleteJob(ctx, job.ID, workerID); cerr != nil {
			// Lease expired mid-run: another worker may already own a
			// re-claim. Nothing to do; at-least-once covers us.
			jlog.Warn("complete failed", logx.Err(cerr), logx.Duration("dur", dur))
		} else if dur >= 750*time.Millisecond {
			jlog.Info("job completed", logx.Duration("dur", dur))
		} else {
			jlog.Debug("job completed", logx.Duration("dur", dur))
		}
		return true
	}

	if IsPermanent(err) {
		jlog.Warn("job failed permanently", logx.Err(err), logx.Duration("dur", dur))
		if derr := s.store.DeadLetterJob(ctx, job.ID, workerID, err.Error()); derr != nil {
			jlog.Warn("dead-letter failed", logx.Err(derr))
		}
		return true
	}

	if job.Attempts >= job.MaxAttempts {
		jlog.Warn("job exhausted retry budget, dead-lettering",
			logx.Err(err), logx.Int("max_attempts", job.MaxAttempts))
		if derr := s.store.DeadLetterJob(ctx, job.ID, workerID, err.Error()); derr != nil {
			jlog.Warn("dead-letter failed", logx.Err(derr))
		}
		return true
	}

	delay := backoffDelay(cfg.Retry, job.Attempts)
	jlog.Warn("job failed, retry scheduled", logx.Err(err), logx.Duration("delay", delay))
	if rerr := s.store.RetryJob(ctx, job.ID, workerID, err.Error(), time.Now().Add(delay)); rerr != nil {
		jlog.Warn("retry scheduling failed", logx.Err(rerr))
	}
	return true
}

// backoffDelay computes the delay before retry number attempt (attempt=1 is
// the first try, so the first retry waits Base). Exponential growth, capped,
// with symmetric jitter so synchronized failures spread out.
func backoffDelay(rc RetryConfig, attempt int) time.Duration {
	d := rc.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > rc.MaxDelay {
			d = rc.MaxDelay
			break
		}
	}
	if rc.Jitter > 0 {
		r := (rand.Float64()*2 - 1) * rc.Jitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > rc.MaxDelay {
		d = rc.MaxDelay
	}
	return d
}
