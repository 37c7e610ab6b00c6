// Package app assembles the notification engine: configuration, logging,
// storage, the job queue, the recurring scheduler, and the HTTP surface.
// Start order is storage up first and HTTP up last; Stop reverses it so
// no new work arrives while workers drain.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/naveenchhikara/aegis-notify/internal/config"
	"github.com/naveenchhikara/aegis-notify/internal/digest"
	"github.com/naveenchhikara/aegis-notify/internal/handlers"
	"github.com/naveenchhikara/aegis-notify/internal/httpapi"
	"github.com/naveenchhikara/aegis-notify/internal/intake"
	"github.com/naveenchhikara/aegis-notify/internal/mailer"
	"github.com/naveenchhikara/aegis-notify/internal/notify"
	"github.com/naveenchhikara/aegis-notify/internal/queue"
	"github.com/naveenchhikara/aegis-notify/internal/scheduler"
	"github.com/naveenchhikara/aegis-notify/internal/store"
	"github.com/naveenchhikara/aegis-notify/pkg/logx"
)

// App owns every long-running component of notifyd.
type App struct {
	cfgMgr *config.Manager

	logSvc *logx.Service
	log    logx.Logger

	store     *store.Store
	queue     *queue.Service
	provider  *mailer.Provider
	scheduler *scheduler.Service
	http      *httpapi.Server

	cfgCh chan *config.Config
	done  chan struct{}
}

// New loads configuration, brings up logging, and wires every component.
// Nothing starts running until Start.
func New(configPath string) (*App, error) {
	mgr := config.NewManager(configPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", configPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		done:   make(chan struct{}),
	}
	if err := a.wire(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(cfg *config.Config) error {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = "./data/notify.db"
	}
	st, err := store.Open(store.Config{Path: dbPath, BusyTimeout: busy}, a.log.With(logx.String("comp", "store")))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	a.store = st

	qcfg, err := queueConfig(cfg.Queue)
	if err != nil {
		return err
	}
	a.queue = queue.New(qcfg, st, a.log.With(logx.String("comp", "queue")))

	mailTimeout, err := config.ParseDurationOrDefault("mailer.timeout", cfg.Mailer.Timeout, 15*time.Second)
	if err != nil {
		return err
	}
	a.provider = mailer.NewProvider(mailer.Config{
		BaseURL:    cfg.Mailer.BaseURL,
		APIKey:     cfg.Mailer.APIKey,
		From:       cfg.Mailer.From,
		Timeout:    mailTimeout,
		RatePerSec: cfg.Mailer.RatePerSec,
	}, a.log.With(logx.String("comp", "mailer")))

	dir := mailer.DomainDirectory{Domain: cfg.Mailer.Domain}
	compiler := digest.NewCompiler(st, dir, a.log.With(logx.String("comp", "digest")))

	roles := rolesFromConfig(cfg.Roles)
	in := intake.New(st, a.queue, roles, a.log.With(logx.String("comp", "intake")))

	sweepHorizon, err := config.ParseDurationOrDefault("schedules.sweep_horizon", cfg.Schedules.SweepHorizon, 72*time.Hour)
	if err != nil {
		return err
	}
	h := handlers.New(handlers.Config{
		SweepHorizon:    sweepHorizon,
		ReportRecipient: cfg.Report.Recipient,
	}, st, compiler, a.provider, in, a.log.With(logx.String("comp", "handlers")))
	h.Register(a.queue)

	sweepEvery, err := config.ParseDurationOrDefault("schedules.sweep_every", cfg.Schedules.SweepEvery, time.Hour)
	if err != nil {
		return err
	}
	weeklyDay, err := config.ParseWeekday("schedules.weekly_day", cfg.Schedules.WeeklyDay)
	if err != nil {
		return err
	}
	a.scheduler = scheduler.New(scheduler.Config{
		Timezone:   cfg.Schedules.Timezone,
		DailyAt:    cfg.Schedules.DailyAt,
		WeeklyAt:   cfg.Schedules.WeeklyAt,
		WeeklyDay:  weeklyDay,
		SweepEvery: sweepEvery,
		ReportAt:   cfg.Schedules.ReportAt,
	}, a.queue, a.log.With(logx.String("comp", "scheduler")))

	a.http = httpapi.NewServer(httpapi.Config{Addr: cfg.HTTP.Addr},
		st, in, roles, a.log.With(logx.String("comp", "http")))

	return nil
}

// Start brings the engine up and begins watching the config file.
func (a *App) Start(ctx context.Context) error {
	a.queue.Start(ctx)
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.http.Start(ctx)

	a.cfgCh = a.cfgMgr.Subscribe(1)
	go a.reloadLoop(ctx)
	if err := a.cfgMgr.Watch(ctx); err != nil {
		a.log.Warn("config watch unavailable, hot reload disabled", logx.Err(err))
	}

	a.log.Info("notifyd started")
	return nil
}

// reloadLoop hot-applies the reloadable subset of configuration: log
// level and sinks, queue retry tuning, and the mailer send rate. Anything
// structural (workers, storage path, listen address) needs a restart.
func (a *App) reloadLoop(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return
			}
			a.applyReload(cfg)
		}
	}
}

func (a *App) applyReload(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if qcfg, err := queueConfig(cfg.Queue); err != nil {
		a.log.Warn("reload: queue config rejected", logx.Err(err))
	} else {
		a.queue.Apply(qcfg)
	}

	mailTimeout, err := config.ParseDurationOrDefault("mailer.timeout", cfg.Mailer.Timeout, 15*time.Second)
	if err != nil {
		a.log.Warn("reload: mailer config rejected", logx.Err(err))
		return
	}
	a.provider.Apply(mailer.Config{
		BaseURL:    cfg.Mailer.BaseURL,
		APIKey:     cfg.Mailer.APIKey,
		From:       cfg.Mailer.From,
		Timeout:    mailTimeout,
		RatePerSec: cfg.Mailer.RatePerSec,
	})
	a.log.Info("reloadable config applied")
}

// Stop shuts down in reverse order: intake surfaces first, then the
// scheduler so no new recurring jobs appear, then the workers drain, and
// finally the store closes.
func (a *App) Stop(ctx context.Context) {
	a.http.Stop(ctx)
	a.scheduler.Stop(ctx)
	a.queue.Stop(ctx)
	a.cfgMgr.Unsubscribe(a.cfgCh)

	select {
	case <-a.done:
	case <-ctx.Done():
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("closing store", logx.Err(err))
	}
	a.log.Info("notifyd stopped")
	_ = a.logSvc.Close()
}

func queueConfig(qc config.QueueConfig) (queue.Config, error) {
	poll, err := config.ParseDurationOrDefault("queue.poll_interval", qc.PollInterval, time.Second)
	if err != nil {
		return queue.Config{}, err
	}
	lease, err := config.ParseDurationOrDefault("queue.lease", qc.Lease, 2*time.Minute)
	if err != nil {
		return queue.Config{}, err
	}
	jobTimeout, err := config.ParseDurationOrDefault("queue.job_timeout", qc.JobTimeout, time.Minute)
	if err != nil {
		return queue.Config{}, err
	}
	base, err := config.ParseDurationOrDefault("queue.retry.base", qc.Retry.Base, 30*time.Second)
	if err != nil {
		return queue.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("queue.retry.max_delay", qc.Retry.MaxDelay, 30*time.Minute)
	if err != nil {
		return queue.Config{}, err
	}
	// Omitted jitter gets the default; an explicit 0 stays 0.
	jitter := 0.2
	if qc.Retry.Jitter != nil {
		jitter = *qc.Retry.Jitter
	}
	return queue.Config{
		Workers:      qc.Workers,
		PollInterval: poll,
		Lease:        lease,
		JobTimeout:   jobTimeout,
		Retry: queue.RetryConfig{
			MaxAttempts: qc.Retry.MaxAttempts,
			Base:        base,
			MaxDelay:    maxDelay,
			Jitter:      jitter,
		},
	}, nil
}

// rolesFromConfig builds the static role assignment, dropping role strings
// the policy layer does not know.
func rolesFromConfig(raw map[string][]string) intake.StaticRoles {
	out := intake.StaticRoles{}
	for user, names := range raw {
		var roles []notify.Role
		for _, n := range names {
			if r, ok := notify.ParseRole(n); ok {
				roles = append(roles, r)
			}
		}
		if len(roles) > 0 {
			out[user] = roles
		}
	}
	return out
}
