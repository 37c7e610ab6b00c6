// Package scheduler owns the fixed set of recurring registrations: daily
// digest, weekly digest, deadline sweep, and report generation.
//
// Registrations are in-process cron entries rebuilt from configuration at
// every start, so a restart can never accumulate duplicate recurring
// definitions. Each firing enqueues a fresh queue job (fresh id, due now);
// overlapping runs of the same type serialize through the queue by their
// own due-times, never through a shared singleton row.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/naveenchhikara/aegis-notify/internal/queue"
	"github.com/naveenchhikara/aegis-notify/internal/store"
	"github.com/naveenchhikara/aegis-notify/pkg/logx"
)

// Config fixes the recurring cadences. Times are HH:MM in the configured
// timezone.
type Config struct {
	Timezone   string
	DailyAt    string
	WeeklyAt   string
	WeeklyDay  time.Weekday
	SweepEvery time.Duration
	ReportAt   string
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.DailyAt) == "" {
		c.DailyAt = "07:00"
	}
	if strings.TrimSpace(c.WeeklyAt) == "" {
		c.WeeklyAt = "07:30"
	}
	if strings.TrimSpace(c.ReportAt) == "" {
		c.ReportAt = "08:00"
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = time.Hour
	}
	return c
}

// Service wires cron firings to queue enqueues.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	q   *queue.Service

	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, q *queue.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		q:      q,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start registers the recurring set and starts the cron loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := s.loadLocation()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	regs := []struct {
		name string
		spec string
		fire func(t time.Time)
	}{
		{
			name: "daily-digest",
			spec: mustDailySpec(s.cfg.DailyAt),
			fire: func(t time.Time) {
				s.enqueue(store.JobCompileDailyDigest, store.CompileDigestPayload{WindowEnd: t})
			},
		},
		{
			name: "weekly-digest",
			spec: mustWeeklySpec(s.cfg.WeeklyAt, s.cfg.WeeklyDay),
			fire: func(t time.Time) {
				s.enqueue(store.JobCompileWeeklyDigest, store.CompileDigestPayload{WindowEnd: t})
			},
		},
		{
			name: "deadline-sweep",
			spec: fmt.Sprintf("@every %s", s.cfg.SweepEvery),
			fire: func(t time.Time) {
				s.enqueue(store.JobDeadlineSweep, struct{}{})
			},
		},
		{
			name: "report-generate",
			spec: mustWeeklySpec(s.cfg.ReportAt, s.cfg.WeeklyDay),
			fire: func(t time.Time) {
				s.enqueue(store.JobReportGenerate, store.ReportPayload{WindowEnd: t})
			},
		},
	}

	for _, r := range regs {
		r := r
		if _, err := s.c.AddFunc(r.spec, func() { r.fire(time.Now()) }); err != nil {
			return fmt.Errorf("registering %s (%q): %w", r.name, r.spec, err)
		}
		s.log.Debug("recurring job registered", logx.String("name", r.name), logx.String("spec", r.spec))
	}

	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("registrations", len(regs)))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info("scheduler stopped")
}

func (s *Service) enqueue(t store.JobType, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := s.q.Enqueue(ctx, t, payload)
	if err != nil {
		s.log.Error("recurring enqueue failed", logx.String("type", string(t)), logx.Err(err))
		return
	}
	s.log.Debug("recurring run enqueued", logx.String("type", string(t)), logx.String("job", id))
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// mustDailySpec builds a "M H * * *" spec. The HH:MM value is validated at
// config load; a bad value here falls back to 07:00 rather than panicking.
func mustDailySpec(atHHMM string) string {
	h, m, err := ParseHHMM(atHHMM)
	if err != nil {
		h, m = 7, 0
	}
	return fmt.Sprintf("%d %d * * *", m, h)
}

func mustWeeklySpec(atHHMM string, weekday time.Weekday) string {
	h, m, err := ParseHHMM(atHHMM)
	if err != nil {
		h, m = 7, 30
	}
	return fmt.Sprintf("%d %d * * %d", m, h, int(weekday))
}

// ParseHHMM validates a wall-clock time of day.
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
