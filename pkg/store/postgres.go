package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/entrhq/xpost/pkg/store/migrations"
)

// PostgresStore implements Records over a Postgres database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database, runs migrations, and returns a
// ready store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, ".")
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetVault retrieves the vault record for a user.
func (s *PostgresStore) GetVault(ctx context.Context, userID string) (*VaultRecord, error) {
	query := `SELECT user_id, encrypted_blob, expires_at, updated_at
	          FROM vault_records WHERE user_id = $1`

	rec := &VaultRecord{}
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&rec.UserID, &rec.EncryptedBlob, &rec.ExpiresAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return rec, nil
}

// PutVault stores or overwrites the vault record for a user in a single
// upsert, so concurrent stores never interleave partial writes.
func (s *PostgresStore) PutVault(ctx context.Context, rec VaultRecord) error {
	query := `INSERT INTO vault_records (user_id, encrypted_blob, expires_at, updated_at)
	          VALUES ($1, $2, $3, now())
	          ON CONFLICT (user_id) DO UPDATE
	          SET encrypted_blob = EXCLUDED.encrypted_blob,
	              expires_at = EXCLUDED.expires_at,
	              updated_at = now()`

	if err := s.ensureProfile(ctx, rec.UserID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, query, rec.UserID, rec.EncryptedBlob, rec.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteVault removes the vault record for a user.
func (s *PostgresStore) DeleteVault(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vault_records WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetToken retrieves the token record for a user.
func (s *PostgresStore) GetToken(ctx context.Context, userID string) (*TokenRecord, error) {
	query := `SELECT user_id, access_token, refresh_token, expires_at
	          FROM token_records WHERE user_id = $1`

	rec := &TokenRecord{}
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&rec.UserID, &rec.AccessToken, &rec.RefreshToken, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return rec, nil
}

// PutToken stores or overwrites the token record for a user.
func (s *PostgresStore) PutToken(ctx context.Context, rec TokenRecord) error {
	query := `INSERT INTO token_records (user_id, access_token, refresh_token, expires_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (user_id) DO UPDATE
	          SET access_token = EXCLUDED.access_token,
	              refresh_token = EXCLUDED.refresh_token,
	              expires_at = EXCLUDED.expires_at`

	if err := s.ensureProfile(ctx, rec.UserID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, query, rec.UserID, rec.AccessToken, rec.RefreshToken, rec.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetProfile retrieves the profile for a user, creating an empty one for
// unknown users.
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if err := s.ensureProfile(ctx, userID); err != nil {
		return nil, err
	}

	query := `SELECT user_id, handle, cooldown_secs, last_posted_at
	          FROM profiles WHERE user_id = $1`

	p := &Profile{}
	var lastPosted sql.NullTime
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&p.UserID, &p.Handle, &p.CooldownSecs, &lastPosted)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if lastPosted.Valid {
		p.LastPostedAt = lastPosted.Time
	}

	return p, nil
}

// UpdateProfileSettings writes the user-configurable fields without
// touching last_posted_at, which only the reservation path may move.
func (s *PostgresStore) UpdateProfileSettings(ctx context.Context, userID, handle string, cooldownSecs int) error {
	if err := s.ensureProfile(ctx, userID); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET handle = $1, cooldown_secs = $2 WHERE user_id = $3`,
		handle, cooldownSecs, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// CompareAndSetLastPosted atomically replaces lastPostedAt only when the
// stored value still equals old. A zero old time matches NULL.
func (s *PostgresStore) CompareAndSetLastPosted(ctx context.Context, userID string, old, new time.Time) (bool, error) {
	if err := s.ensureProfile(ctx, userID); err != nil {
		return false, err
	}

	var res sql.Result
	var err error
	if old.IsZero() {
		res, err = s.db.ExecContext(ctx,
			`UPDATE profiles SET last_posted_at = $1 WHERE user_id = $2 AND last_posted_at IS NULL`,
			new, userID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE profiles SET last_posted_at = $1 WHERE user_id = $2 AND last_posted_at = $3`,
			new, userID, old)
	}
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

// SetLastPosted unconditionally writes lastPostedAt. A zero time restores
// the "never posted" state.
func (s *PostgresStore) SetLastPosted(ctx context.Context, userID string, t time.Time) error {
	if err := s.ensureProfile(ctx, userID); err != nil {
		return err
	}

	var value interface{}
	if !t.IsZero() {
		value = t
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET last_posted_at = $1 WHERE user_id = $2`, value, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// RecordOutcome appends a posting attempt outcome.
func (s *PostgresStore) RecordOutcome(ctx context.Context, o Outcome) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	query := `INSERT INTO outcomes (id, user_id, post_id, post_url, success, reason, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := s.db.ExecContext(ctx, query,
		o.ID, o.UserID, o.PostID, o.PostURL, o.Success, o.Reason, o.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *PostgresStore) ensureProfile(ctx context.Context, userID string) error {
	query := `INSERT INTO profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
