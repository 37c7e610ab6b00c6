package store

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/naveenchhikara/aegis-notify/internal/notify"
)

// InsertEvent persists a single notification event.
func (s *Store) InsertEvent(ctx context.Context, e Event) error {
	wrapMsg := "unable to save notification event"

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	statement, args, err := sq.
		Insert("notification_events").
		Columns("id", "recipient_id", "kind", "batch_key", "cadence", "payload", "created_at", "consumed_at").
		Values(e.ID, e.RecipientID, string(e.Kind), e.BatchKey, string(e.Cadence), string(e.Payload), toMS(e.CreatedAt), toNullMS(e.ConsumedAt)).
		ToSql()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	_, err = s.db.ExecContext(ctx, statement, args...)
	return errors.Wrap(err, wrapMsg)
}

// GetEvent fetches one event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (Event, error) {
	wrapMsg := "unable to load notification event"

	statement, args, err := eventSelect().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Event{}, errors.Wrap(err, wrapMsg)
	}

	e, err := scanEvent(s.db.QueryRowContext(ctx, statement, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	return e, errors.Wrap(err, wrapMsg)
}

// PendingEvents lists unconsumed events for one recipient with the given
// cadence whose creation time falls within [windowStart, windowEnd).
// Ordering is stable: created ascending, id as tiebreaker.
func (s *Store) PendingEvents(ctx context.Context, recipientID string, cadence notify.Cadence, windowStart, windowEnd time.Time) ([]Event, error) {
	wrapMsg := "unable to list pending events"

	statement, args, err := eventSelect().
		Where(sq.Eq{"recipient_id": recipientID}).
		Where(sq.Eq{"cadence": string(cadence)}).
		Where(sq.Expr("consumed_at IS NULL")).
		Where(sq.GtOrEq{"created_at": toMS(windowStart)}).
		Where(sq.Lt{"created_at": toMS(windowEnd)}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	rows, err := s.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), wrapMsg)
}

// PendingRecipients lists the distinct recipients that have at least one
// unconsumed event with the given cadence inside the window.
func (s *Store) PendingRecipients(ctx context.Context, cadence notify.Cadence, windowStart, windowEnd time.Time) ([]string, error) {
	wrapMsg := "unable to list pending recipients"

	statement, args, err := sq.
		Select("DISTINCT recipient_id").
		From("notification_events").
		Where(sq.Eq{"cadence": string(cadence)}).
		Where(sq.Expr("consumed_at IS NULL")).
		Where(sq.GtOrEq{"created_at": toMS(windowStart)}).
		Where(sq.Lt{"created_at": toMS(windowEnd)}).
		OrderBy("recipient_id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	rows, err := s.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), wrapMsg)
}

// MarkDelivered records a successful send: it stamps consumed_at on every
// listed event and appends the delivery attempt in the same transaction, so
// a crash cannot leave a consumed event without its attempt record.
//
// consumed_at is only ever set where it is still NULL; consumption is
// monotonic and an already-consumed event is left untouched.
func (s *Store) MarkDelivered(ctx context.Context, eventIDs []string, att DeliveryAttempt) error {
	wrapMsg := "unable to mark events delivered"

	now := time.Now()
	return errors.Wrap(s.inTx(ctx, func(tx *sql.Tx) error {
		if len(eventIDs) > 0 {
			statement, args, err := sq.
				Update("notification_events").
				Set("consumed_at", toMS(now)).
				Where(sq.Eq{"id": eventIDs}).
				Where(sq.Expr("consumed_at IS NULL")).
				ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, statement, args...); err != nil {
				return err
			}
		}
		return appendAttemptTx(ctx, tx, att)
	}), wrapMsg)
}

func eventSelect() sq.SelectBuilder {
	return sq.Select("id", "recipient_id", "kind", "batch_key", "cadence", "payload", "created_at", "consumed_at").
		From("notification_events")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var (
		e        Event
		kind     string
		cadence  string
		payload  string
		created  int64
		consumed sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.RecipientID, &kind, &e.BatchKey, &cadence, &payload, &created, &consumed)
	if err != nil {
		return Event{}, err
	}
	e.Kind = notify.EventKind(kind)
	e.Cadence = notify.Cadence(cadence)
	e.Payload = []byte(payload)
	e.CreatedAt = fromMS(created)
	e.ConsumedAt = fromNullMS(consumed)
	return e, nil
}
