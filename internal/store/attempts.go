package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// AppendAttempt records one send try against the provider. Append-only.
func (s *Store) AppendAttempt(ctx context.Context, att DeliveryAttempt) error {
	wrapMsg := "unable to record delivery attempt"

	return errors.Wrap(s.inTx(ctx, func(tx *sql.Tx) error {
		return appendAttemptTx(ctx, tx, att)
	}), wrapMsg)
}

func appendAttemptTx(ctx context.Context, tx *sql.Tx, att DeliveryAttempt) error {
	if att.At.IsZero() {
		att.At = time.Now()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO delivery_attempts(job_id, attempt, outcome, provider_msg_id, err, at)
		 VALUES(?,?,?,?,?,?)`,
		att.JobID, att.Attempt, att.Outcome, att.ProviderMsgID, att.Error, toMS(att.At),
	)
	return err
}

// ListAttempts returns the delivery attempts for one job, oldest first.
func (s *Store) ListAttempts(ctx context.Context, jobID string) ([]DeliveryAttempt, error) {
	wrapMsg := "unable to list delivery attempts"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, attempt, outcome, provider_msg_id, err, at
		 FROM delivery_attempts WHERE job_id = ? ORDER BY attempt, id`,
		jobID,
	)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	defer rows.Close()

	var out []DeliveryAttempt
	for rows.Next() {
		var (
			att DeliveryAttempt
			at  int64
		)
		if err := rows.Scan(&att.ID, &att.JobID, &att.Attempt, &att.Outcome, &att.ProviderMsgID, &att.Error, &at); err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		att.At = fromMS(at)
		out = append(out, att)
	}
	return out, errors.Wrap(rows.Err(), wrapMsg)
}
