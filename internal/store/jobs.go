package store

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
)

// InsertJob persists a new queue entry in the pending state.
func (s *Store) InsertJob(ctx context.Context, j Job) error {
	wrapMsg := "unable to enqueue job"

	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	if j.State == "" {
		j.State = JobPending
	}
	if len(j.Payload) == 0 {
		j.Payload = []byte("{}")
	}
	statement, args, err := sq.
		Insert("jobs").
		Columns("id", "type", "payload", "run_at", "state", "attempts", "max_attempts",
			"last_error", "leased_by", "lease_expires_at", "created_at", "updated_at").
		Values(j.ID, string(j.Type), string(j.Payload), toMS(j.RunAt), string(j.State),
			j.Attempts, j.MaxAttempts, j.LastError, j.LeasedBy, toNullMS(j.LeaseExpiry),
			toMS(j.CreatedAt), toMS(now)).
		ToSql()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	_, err = s.db.ExecContext(ctx, statement, args...)
	return errors.Wrap(err, wrapMsg)
}

// ClaimJob atomically leases one eligible job for the given worker and
// returns it. Eligible means pending and due, or active with an expired
// lease (crashed worker). The claim bumps the attempt counter, so a crashed
// attempt still counts against the retry budget.
//
// The whole claim is one UPDATE with a sub-select; combined with SQLite's
// single-writer connection pool this guarantees no two workers ever hold
// the same job.
func (s *Store) ClaimJob(ctx context.Context, workerID string, lease time.Duration, now time.Time) (Job, bool, error) {
	wrapMsg := "unable to claim job"

	nowMS := toMS(now)
	expiry := toMS(now.Add(lease))

	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET
		    state            = ?,
		    leased_by        = ?,
		    lease_expires_at = ?,
		    attempts         = attempts + 1,
		    updated_at       = ?
		WHERE id = (
		    SELECT id FROM jobs
		    WHERE (state = ? AND run_at <= ?)
		       OR (state = ? AND lease_expires_at < ?)
		    ORDER BY run_at, id
		    LIMIT 1
		)
		RETURNING id, type, payload, run_at, state, attempts, max_attempts,
		          last_error, leased_by, lease_expires_at, created_at, updated_at`,
		string(JobActive), workerID, expiry, nowMS,
		string(JobPending), nowMS,
		string(JobActive), nowMS,
	)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, errors.Wrap(err, wrapMsg)
	}
	return j, true, nil
}

// CompleteJob transitions an active job to completed. Only the current
// lease holder may complete it.
func (s *Store) CompleteJob(ctx context.Context, jobID, workerID string) error {
	wrapMsg := "unable to complete job"

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, leased_by = '', lease_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND state = ? AND leased_by = ?`,
		string(JobCompleted), toMS(time.Now()), jobID, string(JobActive), workerID,
	)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return leaseGateResult(res, wrapMsg)
}

// RetryJob returns a failed active job to pending with a new due time.
// Only the current lease holder may do this.
func (s *Store) RetryJob(ctx context.Context, jobID, workerID, lastError string, runAt time.Time) error {
	wrapMsg := "unable to schedule job retry"

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, run_at = ?, last_error = ?, leased_by = '', lease_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND state = ? AND leased_by = ?`,
		string(JobPending), toMS(runAt), lastError, toMS(time.Now()),
		jobID, string(JobActive), workerID,
	)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return leaseGateResult(res, wrapMsg)
}

// DeadLetterJob moves a job to the terminal dead-lettered state, recording
// the error for operator visibility. Only the current lease holder may do
// this; dead-lettered jobs are never picked up again.
func (s *Store) DeadLetterJob(ctx context.Context, jobID, workerID, lastError string) error {
	wrapMsg := "unable to dead-letter job"

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, last_error = ?, leased_by = '', lease_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND state = ? AND leased_by = ?`,
		string(JobDeadLettered), lastError, toMS(time.Now()),
		jobID, string(JobActive), workerID,
	)
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return leaseGateResult(res, wrapMsg)
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	wrapMsg := "unable to load job"

	statement, args, err := jobSelect().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Job{}, errors.Wrap(err, wrapMsg)
	}
	j, err := scanJob(s.db.QueryRowContext(ctx, statement, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, errors.Wrap(err, wrapMsg)
}

// ListJobs lists jobs for operator diagnostics, optionally filtered by
// state and type, newest first.
func (s *Store) ListJobs(ctx context.Context, state JobState, jobType JobType, limit int) ([]Job, error) {
	wrapMsg := "unable to list jobs"

	b := jobSelect().OrderBy("created_at DESC", "id").Limit(uint64(limit))
	if state != "" {
		b = b.Where(sq.Eq{"state": string(state)})
	}
	if jobType != "" {
		b = b.Where(sq.Eq{"type": string(jobType)})
	}
	statement, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	rows, err := s.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), wrapMsg)
}

// CountJobsByState aggregates job counts for the operator report.
func (s *Store) CountJobsByState(ctx context.Context) (map[JobState]int, error) {
	wrapMsg := "unable to count jobs"

	rows, err := s.db.QueryContext(ctx, `SELECT state, count(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}
	defer rows.Close()

	out := map[JobState]int{}
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, errors.Wrap(err, wrapMsg)
		}
		out[JobState(state)] = n
	}
	return out, errors.Wrap(rows.Err(), wrapMsg)
}

func leaseGateResult(res sql.Result, wrapMsg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	if n == 0 {
		return ErrNotLeaseHolder
	}
	return nil
}

func jobSelect() sq.SelectBuilder {
	return sq.Select("id", "type", "payload", "run_at", "state", "attempts", "max_attempts",
		"last_error", "leased_by", "lease_expires_at", "created_at", "updated_at").
		From("jobs")
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j       Job
		typ     string
		payload string
		runAt   int64
		state   string
		lease   sql.NullInt64
		created int64
		updated int64
	)
	err := row.Scan(&j.ID, &typ, &payload, &runAt, &state, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &j.LeasedBy, &lease, &created, &updated)
	if err != nil {
		return Job{}, err
	}
	j.Type = JobType(typ)
	j.Payload = []byte(payload)
	j.RunAt = fromMS(runAt)
	j.State = JobState(state)
	j.LeaseExpiry = fromNullMS(lease)
	j.CreatedAt = fromMS(created)
	j.UpdatedAt = fromMS(updated)
	return j, nil
}
