// Package handlers holds the processing bodies for every queue job type.
// Each body runs sequentially on whichever worker claimed the job; all
// cross-worker coordination happens through the store.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/naveenchhikara/aegis-notify/internal/digest"
	"github.com/naveenchhikara/aegis-notify/internal/intake"
	"github.com/naveenchhikara/aegis-notify/internal/mailer"
	"github.com/naveenchhikara/aegis-notify/internal/notify"
	"github.com/naveenchhikara/aegis-notify/internal/queue"
	"github.com/naveenchhikara/aegis-notify/internal/store"
	"github.com/naveenchhikara/aegis-notify/pkg/logx"
)

// Config tunes the recurring job bodies.
type Config struct {
	SweepHorizon    time.Duration
	ReportRecipient string
}

func (c Config) withDefaults() Config {
	if c.SweepHorizon <= 0 {
		c.SweepHorizon = 72 * time.Hour
	}
	return c
}

// Service implements the queue handlers.
type Service struct {
	cfg      Config
	store    *store.Store
	compiler *digest.Compiler
	adapter  mailer.Adapter
	intake   *intake.Service
	log      logx.Logger
}

func New(cfg Config, st *store.Store, comp *digest.Compiler, adapter mailer.Adapter, in *intake.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    st,
		compiler: comp,
		adapter:  adapter,
		intake:   in,
		log:      log,
	}
}

// Register installs every handler on the queue. The job-type set is closed;
// this is the single place it is wired.
func (s *Service) Register(q *queue.Service) {
	q.Register(store.JobSendImmediate, s.SendImmediate)
	q.Register(store.JobCompileDailyDigest, func(ctx context.Context, j store.Job) error {
		return s.CompileDigests(ctx, j, notify.CadenceDaily, 24*time.Hour)
	})
	q.Register(store.JobCompileWeeklyDigest, func(ctx context.Context, j store.Job) error {
		return s.CompileDigests(ctx, j, notify.CadenceWeekly, 7*24*time.Hour)
	})
	q.Register(store.JobDeadlineSweep, s.DeadlineSweep)
	q.Register(store.JobReportGenerate, s.GenerateReport)
}

// SendImmediate renders and delivers one immediate-mode event.
//
// Replays are idempotent: an event already consumed by an earlier attempt
// completes without a second send.
func (s *Service) SendImmediate(ctx context.Context, job store.Job) error {
	var p store.SendImmediatePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("bad payload: %w", err))
	}

	ev, err := s.store.GetEvent(ctx, p.EventID)
	if errors.Is(err, store.ErrNotFound) {
		return queue.Permanent(fmt.Errorf("event %s does not exist", p.EventID))
	}
	if err != nil {
		return err
	}
	if ev.Consumed() {
		s.log.Debug("event already delivered, completing replay", logx.String("event", ev.ID))
		return nil
	}

	compiled, err := s.compiler.CompileSingle(ctx, ev)
	if err != nil {
		return queue.Permanent(err)
	}

	return s.deliver(ctx, job, compiled)
}

// CompileDigests runs one recurring digest firing: every recipient with
// pending events of the cadence gets one consolidated message.
//
// Per-recipient transient send failures leave that recipient's events
// unconsumed and fail the run at the end, so the retry re-covers exactly
// the recipients that were missed. Recipients already delivered have their
// events consumed and drop out of the retry naturally.
func (s *Service) CompileDigests(ctx context.Context, job store.Job, cadence notify.Cadence, window time.Duration) error {
	var p store.CompileDigestPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("bad payload: %w", err))
	}
	windowEnd := p.WindowEnd
	if windowEnd.IsZero() {
		windowEnd = time.Now()
	}
	windowStart := windowEnd.Add(-window)

	recipients, err := s.store.PendingRecipients(ctx, cadence, windowStart, windowEnd)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		// An empty digest window is a no-op, not a failure.
		return nil
	}

	failed, permanent := 0, 0
	for _, recipient := range recipients {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.digestOne(ctx, job, recipient, windowStart, windowEnd, cadence); err != nil {
			failed++
			if queue.IsPermanent(err) {
				permanent++
			}
			s.log.Warn("digest delivery failed for recipient",
				logx.String("recipient", recipient),
				logx.String("cadence", string(cadence)),
				logx.Err(err))
		}
	}
	if failed > 0 {
		err := fmt.Errorf("digest run: %d of %d recipients failed", failed, len(recipients))
		if permanent == failed {
			// Every failure was a rejected send; a retry would only repeat
			// the same provider calls. Mixed runs stay retryable for the
			// transient part.
			return queue.Permanent(err)
		}
		return err
	}
	return nil
}

func (s *Service) digestOne(ctx context.Context, job store.Job, recipient string, windowStart, windowEnd time.Time, cadence notify.Cadence) error {
	compiled, err := s.compiler.Compile(ctx, recipient, windowStart, windowEnd, cadence)
	if err != nil {
		return err
	}
	if compiled == nil {
		return nil
	}
	return s.deliver(ctx, job, compiled)
}

// deliver sends a compiled message and, only on provider success, marks
// every covered event consumed together with the attempt record. A crash
// or failure before success leaves the events unconsumed and eligible for
// the next run; the rare duplicate email is accepted over silent loss.
func (s *Service) deliver(ctx context.Context, job store.Job, compiled *digest.Compiled) error {
	providerID, err := s.adapter.Send(ctx, compiled.Message)
	if err != nil {
		kind := mailer.Classify(err)
		if aerr := s.store.AppendAttempt(ctx, store.DeliveryAttempt{
			JobID:   job.ID,
			Attempt: job.Attempts,
			Outcome: string(kind),
			Error:   err.Error(),
		}); aerr != nil {
			s.log.Warn("recording failed attempt failed", logx.String("job", job.ID), logx.Err(aerr))
		}
		if kind == mailer.ErrPermanent {
			return queue.Permanent(err)
		}
		return err
	}

	return s.store.MarkDelivered(ctx, compiled.EventIDs, store.DeliveryAttempt{
		JobID:         job.ID,
		Attempt:       job.Attempts,
		Outcome:       "success",
		ProviderMsgID: providerID,
	})
}

// DeadlineSweep raises deadline-approaching events for unswept deadlines
// falling due within the horizon. Intake is best-effort here like
// everywhere else; a failed intake leaves the deadline unswept for the
// next pass.
func (s *Service) DeadlineSweep(ctx context.Context, job store.Job) error {
	now := time.Now()
	due, err := s.store.DueDeadlines(ctx, now, s.cfg.SweepHorizon)
	if err != nil {
		return err
	}

	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]string{
			"title":   d.Title,
			"summary": fmt.Sprintf("due %s", d.DueAt.Format("Mon, Jan 2")),
		})
		id := s.intake.RecordBestEffort(ctx, intake.Request{
			RecipientID: d.RecipientID,
			Kind:        notify.KindDeadlineApproaching,
			Payload:     payload,
			Context:     d.Context,
		})
		if id == "" {
			continue
		}
		if err := s.store.MarkSwept(ctx, d.ID, now); err != nil {
			s.log.Warn("marking deadline swept failed", logx.String("deadline", d.ID), logx.Err(err))
		}
	}
	s.log.Debug("deadline sweep finished", logx.Int("due", len(due)))
	return nil
}

// GenerateReport emails the operator a summary of queue health: job counts
// per state and the current dead-letter list.
func (s *Service) GenerateReport(ctx context.Context, job store.Job) error {
	if s.cfg.ReportRecipient == "" {
		s.log.Debug("no report recipient configured, skipping")
		return nil
	}

	counts, err := s.store.CountJobsByState(ctx)
	if err != nil {
		return err
	}
	dead, err := s.store.ListJobs(ctx, store.JobDeadLettered, "", 50)
	if err != nil {
		return err
	}

	body := formatReport(counts, dead)
	_, err = s.adapter.Send(ctx, mailer.Message{
		To:       s.cfg.ReportRecipient,
		Subject:  fmt.Sprintf("Notification queue report: %d dead-lettered", len(dead)),
		HTMLBody: "<pre>" + body + "</pre>",
		TextBody: body,
	})
	if err != nil && mailer.Classify(err) == mailer.ErrPermanent {
		return queue.Permanent(err)
	}
	return err
}

func formatReport(counts map[store.JobState]int, dead []store.Job) string {
	out := "Job states:\n"
	for _, st := range []store.JobState{store.JobPending, store.JobActive, store.JobCompleted, store.JobDeadLettered} {
		out += fmt.Sprintf("  %-14s %d\n", st, counts[st])
	}
	if len(dead) == 0 {
		out += "\nNo dead-lettered jobs.\n"
		return out
	}
	out += "\nDead-lettered jobs:\n"
	for _, j := range dead {
		out += fmt.Sprintf("  %s  %-22s attempts=%d  %s\n", j.ID, j.Type, j.Attempts, j.LastError)
	}
	return out
}
