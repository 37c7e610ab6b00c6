package intake

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/naveenchhikara/aegis-notify/internal/notify"
	"github.com/naveenchhikara/aegis-notify/internal/queue"
	"github.com/naveenchhikara/aegis-notify/internal/store"
	"github.com/naveenchhikara/aegis-notify/pkg/logx"
)

// RoleSource answers which roles a user currently holds. The permission
// tables live in the platform; this service only needs the role set for
// the digest-policy rule.
type RoleSource interface {
	RolesFor(ctx context.Context, userID string) ([]notify.Role, error)
}

// StaticRoles is a RoleSource backed by a fixed assignment map, fed from
// configuration. Unknown users hold no roles.
type StaticRoles map[string][]notify.Role

func (s StaticRoles) RolesFor(_ context.Context, userID string) ([]notify.Role, error) {
	return s[userID], nil
}

// Request is one notifiable business event arriving at the intake boundary.
type Request struct {
	RecipientID string
	Kind        notify.EventKind
	Payload     json.RawMessage
	Context     notify.Context
}

// Service is the Event Intake: it resolves the effective delivery mode,
// derives the batch key, persists the event, and enqueues an immediate
// send when the mode calls for one.
type Service struct {
	store *store.Store
	queue *queue.Service
	roles RoleSource
	log   logx.Logger
}

func New(st *store.Store, q *queue.Service, roles RoleSource, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: st, queue: q, roles: roles, log: log}
}

// Record persists one notification event and returns its id.
//
// Exactly one event row is written, and at most one job. When the
// recipient disabled email the event is still persisted (audit history)
// with cadence "none" and nothing is scheduled.
func (s *Service) Record(ctx context.Context, req Request) (string, error) {
	pref, err := s.store.GetPreference(ctx, req.RecipientID)
	if err != nil {
		return "", err
	}
	roles, err := s.roles.RolesFor(ctx, req.RecipientID)
	if err != nil {
		return "", err
	}
	mode := notify.ResolveMode(&pref, roles)

	key := notify.BatchKey(req.RecipientID, req.Context)
	if req.Kind == notify.KindBulkImport {
		key = notify.BulkImportKey(req.RecipientID, req.Context.ID)
	}

	cadence := mode
	if !pref.EmailEnabled {
		cadence = notify.CadenceNone
	}

	ev := store.Event{
		ID:          uuid.NewString(),
		RecipientID: req.RecipientID,
		Kind:        req.Kind,
		BatchKey:    key,
		Cadence:     cadence,
		Payload:     req.Payload,
		CreatedAt:   time.Now(),
	}
	if err := s.store.InsertEvent(ctx, ev); err != nil {
		return "", err
	}

	if cadence == notify.CadenceImmediate {
		_, err := s.queue.Enqueue(ctx, store.JobSendImmediate, store.SendImmediatePayload{EventID: ev.ID})
		if err != nil {
			// The event row exists; the send job does not. The event still
			// surfaces in the next digest-eligible path only if cadence
			// matches, so report the failure to the caller.
			return "", err
		}
	}

	return ev.ID, nil
}

// RecordBestEffort is the boundary business actions call: notification
// delivery is a side channel, never a correctness gate on the primary
// write. Every failure is logged and swallowed here.
func (s *Service) RecordBestEffort(ctx context.Context, req Request) string {
	id, err := s.Record(ctx, req)
	if err != nil {
		s.log.Error("event intake failed",
			logx.String("recipient", req.RecipientID),
			logx.String("kind", string(req.Kind)),
			logx.Err(err))
		return ""
	}
	return id
}
