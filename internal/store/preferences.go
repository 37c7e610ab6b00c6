package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/naveenchhikara/aegis-notify/internal/notify"
)

// GetPreference loads the stored preference for a user. Users who never
// touched settings get the lazy default; the row is written on first read
// so later policy checks and updates always have something to diff against.
func (s *Store) GetPreference(ctx context.Context, userID string) (notify.Preference, error) {
	wrapMsg := "unable to load notification preference"

	var (
		p       notify.Preference
		enabled int
		digest  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email_enabled, digest FROM notification_preferences WHERE user_id = ?`,
		userID,
	).Scan(&p.UserID, &enabled, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		def := notify.DefaultPreference(userID)
		if err := s.PutPreference(ctx, def); err != nil {
			return notify.Preference{}, err
		}
		return def, nil
	}
	if err != nil {
		return notify.Preference{}, errors.Wrap(err, wrapMsg)
	}
	p.EmailEnabled = enabled != 0
	p.Digest = notify.Cadence(digest)
	return p, nil
}

// PutPreference upserts a user's preference. Policy validation happens in
// the caller (notify.ValidateUpdate); the store only persists.
func (s *Store) PutPreference(ctx context.Context, p notify.Preference) error {
	wrapMsg := "unable to save notification preference"

	enabled := 0
	if p.EmailEnabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_preferences(user_id, email_enabled, digest, updated_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   email_enabled = excluded.email_enabled,
		   digest        = excluded.digest,
		   updated_at    = excluded.updated_at`,
		p.UserID, enabled, string(p.Digest), toMS(time.Now()),
	)
	return errors.Wrap(err, wrapMsg)
}
