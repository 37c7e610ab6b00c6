package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// UpsertDeadline registers (or refreshes) a deadline for the recurring
// sweep. Refreshing clears the swept marker so a moved deadline is swept
// again against its new due time.
func (s *Store) UpsertDeadline(ctx context.Context, d Deadline) error {
	wrapMsg := "unable to save deadline"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deadlines(id, recipient_id, title, due_at, context_type, context_id, swept_at)
		 VALUES(?,?,?,?,?,?,NULL)
		 ON CONFLICT(id) DO UPDATE SET
		   recipient_id = excluded.recipient_id,
		   title        = excluded.title,
		   due_at       = excluded.due_at,
		   context_type = excluded.context_type,
		   context_id   = excluded.context_id,
		   swept_at     = NULL`,
		d.ID, d.RecipientID, d.Title, toMS(d.DueAt), d.Context.Type, d.Context.ID,
	)
	return errors.Wrap(err, wrapMsg)
}

// DueDeadlines lists unswept deadlines falling due within the horizon.
func (s *Store) DueDeadlines(ctx context.Context, now time.Time, horizon time.Duration) ([]Deadline, error) {
	wrapMsg := "unable to list due deadlines"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recipient_id, title, due_at, context_type, context_id, swept_at
		 FROM deadlines
		 WHERE swept_at IS NULL AND due_at <= ?
		 ORDER BY due_at, id`,
		toMS(now.Add(horizon)),
	)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	defer rows.Close()

	var out []Deadline
	for rows.Next() {
		var (
			d     Deadline
			dueAt int64
			swept sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.RecipientID, &d.Title, &dueAt, &d.Context.Type, &d.Context.ID, &swept); err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		d.DueAt = fromMS(dueAt)
		d.SweptAt = fromNullMS(swept)
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), wrapMsg)
}

// MarkSwept stamps a deadline as handled by the sweep.
func (s *Store) MarkSwept(ctx context.Context, id string, at time.Time) error {
	wrapMsg := "unable to mark deadline swept"

	_, err := s.db.ExecContext(ctx,
		`UPDATE deadlines SET swept_at = ? WHERE id = ? AND swept_at IS NULL`,
		toMS(at), id,
	)
	return errors.Wrap(err, wrapMsg)
}
