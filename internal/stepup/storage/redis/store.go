// Package redis provides a Redis-backed session store for multi-process
// deployments where sessions must outlive a single server instance.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/strongholdauth/stronghold/internal/stepup/session"
	"github.com/strongholdauth/stronghold/internal/stepup/storage"
)

const defaultKeyPrefix = "stepup:session:"

// Store persists JSON-marshaled session records under prefixed keys.
// TTL semantics are handled by Redis key expiry.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// New creates a Redis session store. A zero ttl disables expiry.
func New(client redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{
		client: client,
		prefix: defaultKeyPrefix,
		ttl:    ttl,
	}
}

// NewWithPrefix creates a Redis session store with a custom key prefix.
func NewWithPrefix(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

type sessionRecord struct {
	ID              string     `json:"id"`
	SubjectID       string     `json:"subject_id"`
	AuthType        string     `json:"auth_type"`
	UserCode        string     `json:"user_code,omitempty"`
	TransactionJSON string     `json:"transaction_json,omitempty"`
	SignedPayload   string     `json:"signed_payload,omitempty"`
	Verified        bool       `json:"verified"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CreateSession stores a new record, applying the configured TTL.
func (s *Store) CreateSession(ctx context.Context, record session.Session) error {
	return s.put(ctx, record, s.ttl)
}

// UpdateSession replaces an existing record. The remaining TTL of the key
// is preserved so verification does not extend a session's lifetime.
func (s *Store) UpdateSession(ctx context.Context, record session.Session) error {
	key := s.prefix + record.ID
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if exists == 0 {
		return storage.ErrNotFound
	}
	return s.put(ctx, record, redis.KeepTTL)
}

func (s *Store) put(ctx context.Context, record session.Session, ttl time.Duration) error {
	if record.ID == "" {
		return errors.New("session id cannot be empty")
	}

	data, err := json.Marshal(sessionRecord{
		ID:              record.ID,
		SubjectID:       record.SubjectID,
		AuthType:        string(record.AuthType),
		UserCode:        record.UserCode,
		TransactionJSON: record.TransactionJSON,
		SignedPayload:   record.SignedPayload,
		Verified:        record.Verified,
		VerifiedAt:      record.VerifiedAt,
		CreatedAt:       record.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.client.Set(ctx, s.prefix+record.ID, data, ttl).Err()
}

// GetSession loads a record or returns storage.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, storage.ErrNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("redis get: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return session.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}

	return session.Session{
		ID:              record.ID,
		SubjectID:       record.SubjectID,
		AuthType:        session.AuthType(record.AuthType),
		UserCode:        record.UserCode,
		TransactionJSON: record.TransactionJSON,
		SignedPayload:   record.SignedPayload,
		Verified:        record.Verified,
		VerifiedAt:      record.VerifiedAt,
		CreatedAt:       record.CreatedAt,
	}, nil
}

// DeleteSession removes a record. Missing keys are a no-op.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+sessionID).Err()
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
