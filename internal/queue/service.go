package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/naveenchhikara/aegis-notify/internal/store"
	"github.com/naveenchhikara/aegis-notify/pkg/logx"
)

// Handler processes one claimed job. Returning nil completes the job;
// returning an error marked with Permanent() dead-letters it; any other
// error schedules a retry until the attempt budget runs out.
type Handler func(ctx context.Context, job store.Job) error

// Service drives the durable job queue: a fixed worker pool claims due jobs
// from the store under short leases and dispatches them to registered
// handlers. Multiple processes may run workers against the same store; the
// atomic claim in the store is the only mutual-exclusion mechanism.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log   logx.Logger
	store *store.Store

	handlers map[store.JobType]Handler

	stopCh   chan struct{}
	workerWG sync.WaitGroup
	// wake lets Enqueue nudge an idle worker instead of waiting a full poll.
	wake chan struct{}

	workerPrefix string
}

func New(cfg Config, st *store.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:          cfg.withDefaults(),
		log:          log,
		store:        st,
		handlers:     map[store.JobType]Handler{},
		wake:         make(chan struct{}, 1),
		workerPrefix: uuid.NewString()[:8],
	}
}

// Register installs the handler for a job type. Must be called before
// Start; handlers are fixed for the life of the process.
func (s *Service) Register(t store.JobType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = h
}

// Apply updates the retry tuning at runtime. Worker count and lease are
// fixed at Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg.Retry = cfg.Retry
	s.cfg.JobTimeout = cfg.JobTimeout
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})

	workers := s.cfg.Workers
	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go func(idx int) {
			defer s.workerWG.Done()
			s.worker(ctx, s.stopCh, idx)
		}(i)
	}
	s.log.Info("queue started",
		logx.Int("workers", workers),
		logx.Duration("poll", s.cfg.PollInterval),
		logx.Duration("lease", s.cfg.Lease))
}

// Stop signals the workers and waits for in-flight handlers to finish, so
// no lease is abandoned mid-job on a clean shutdown.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("queue stopped")
	case <-ctx.Done():
		s.log.Warn("queue stop timed out; leases will expire on their own")
	}
}

// Enqueue persists a run-now job of the given type and nudges a worker.
// The payload is marshaled to JSON.
func (s *Service) Enqueue(ctx context.Context, t store.JobType, payload any) (string, error) {
	return s.EnqueueAt(ctx, t, payload, time.Now())
}

// EnqueueAt persists a job due at runAt.
func (s *Service) EnqueueAt(ctx context.Context, t store.JobType, payload any, runAt time.Time) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	maxAttempts := s.cfg.Retry.MaxAttempts
	s.mu.Unlock()

	j := store.Job{
		ID:          uuid.NewString(),
		Type:        t,
		Payload:     b,
		RunAt:       runAt,
		MaxAttempts: maxAttempts,
	}
	if err := s.store.InsertJob(ctx, j); err != nil {
		return "", err
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return j.ID, nil
}

func (s *Service) handlerFor(t store.JobType) (Handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[t]
	return h, ok
}

func (s *Service) snapshot() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}
