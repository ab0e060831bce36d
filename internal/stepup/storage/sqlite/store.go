// Package sqlite implements durable session persistence over SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/strongholdauth/stronghold/internal/platform/storage/sqlitemigrate"
	"github.com/strongholdauth/stronghold/internal/stepup/session"
	"github.com/strongholdauth/stronghold/internal/stepup/storage"
	"github.com/strongholdauth/stronghold/internal/stepup/storage/sqlite/migrations"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements session persistence over a single SQLite file.
type Store struct {
	sqlDB *sql.DB
	ttl   time.Duration
	now   func() time.Time
}

// Open opens the session store at path and applies bundled migrations.
//
// Schema evolution stays in one place instead of requiring callers to
// coordinate migrations independently. A zero ttl disables expiry.
func Open(path string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, ttl: ttl, now: time.Now}, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateSession persists a new session record.
func (s *Store) CreateSession(ctx context.Context, record session.Session) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (session_id, subject_id, auth_type, user_code, transaction_json, signed_payload, verified, verified_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.SubjectID,
		string(record.AuthType),
		nullString(record.UserCode),
		nullString(record.TransactionJSON),
		nullString(record.SignedPayload),
		boolToInt(record.Verified),
		nullMillis(record.VerifiedAt),
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", record.ID, err)
	}
	return nil
}

// GetSession loads a session record or returns storage.ErrNotFound.
// Expired records are deleted on read.
func (s *Store) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT session_id, subject_id, auth_type, user_code, transaction_json, signed_payload, verified, verified_at, created_at
FROM sessions
WHERE session_id = ?`, sessionID)

	record, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("select session %s: %w", sessionID, err)
	}

	if s.ttl > 0 && s.now().After(record.CreatedAt.Add(s.ttl)) {
		if err := s.DeleteSession(ctx, sessionID); err != nil {
			return session.Session{}, fmt.Errorf("evict expired session %s: %w", sessionID, err)
		}
		return session.Session{}, storage.ErrNotFound
	}

	return record, nil
}

// UpdateSession replaces the mutable fields of an existing record.
func (s *Store) UpdateSession(ctx context.Context, record session.Session) error {
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions
SET signed_payload = ?, verified = ?, verified_at = ?
WHERE session_id = ?`,
		nullString(record.SignedPayload),
		boolToInt(record.Verified),
		nullMillis(record.VerifiedAt),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", record.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s rows: %w", record.ID, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteSession removes a session. Missing records are a no-op.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Session, error) {
	var record session.Session
	var authType string
	var userCode sql.NullString
	var transactionJSON sql.NullString
	var signedPayload sql.NullString
	var verified int
	var verifiedAt sql.NullInt64
	var createdAt int64

	if err := row.Scan(
		&record.ID,
		&record.SubjectID,
		&authType,
		&userCode,
		&transactionJSON,
		&signedPayload,
		&verified,
		&verifiedAt,
		&createdAt,
	); err != nil {
		return session.Session{}, err
	}

	record.AuthType = session.AuthType(authType)
	record.UserCode = userCode.String
	record.TransactionJSON = transactionJSON.String
	record.SignedPayload = signedPayload.String
	record.Verified = verified != 0
	if verifiedAt.Valid {
		at := fromMillis(verifiedAt.Int64)
		record.VerifiedAt = &at
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
