// Package service implements the step-up session lifecycle.
//
// The service owns the session state machine: sessions are created
// unverified, flip to verified exactly once on a correct code submission,
// and accept a signed payload only after that gate (or immediately for
// SILENT sessions). Storage is the single source of truth; completion
// notifications are a separate best-effort step that never rolls back a
// persisted verification.
package service

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strongholdauth/stronghold/internal/platform/errors"
	"github.com/strongholdauth/stronghold/internal/stepup/code"
	"github.com/strongholdauth/stronghold/internal/stepup/session"
	"github.com/strongholdauth/stronghold/internal/stepup/storage"
)

const lockStripes = 64

// Notifier receives completion signals for a session. The hub satisfies
// this through a small adapter in the transport layer.
type Notifier interface {
	AuthCompleted(sessionID string)
}

// Service coordinates session lifecycle operations over a Store.
type Service struct {
	store    storage.Store
	codes    *code.Generator
	notifier Notifier
	now      func() time.Time

	// locks serialize read-modify-write cycles per session id so the
	// monotonic verified invariant holds under concurrent submissions.
	locks [lockStripes]sync.Mutex
}

// New creates a lifecycle service. notifier may be nil when no realtime
// surface is attached (CLI tools, tests).
func New(store storage.Store, codes *code.Generator, notifier Notifier) *Service {
	if codes == nil {
		codes = code.NewGenerator()
	}
	return &Service{
		store:    store,
		codes:    codes,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) lock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &s.locks[h.Sum32()%lockStripes]
}

// Start creates a new session for subjectID with the code shape of
// authType. transaction is opaque caller metadata; when it cannot be
// serialized the session is still created without it.
func (s *Service) Start(ctx context.Context, subjectID string, authType session.AuthType, transaction map[string]any) (session.StartedSession, error) {
	if subjectID == "" {
		return session.StartedSession{}, errors.New(errors.CodeSubjectRequired, "subject id is required")
	}

	record := session.Session{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		AuthType:  authType,
		UserCode:  s.codes.Generate(authType),
		CreatedAt: s.now().UTC(),
	}

	if transaction != nil {
		data, err := json.Marshal(transaction)
		if err != nil {
			log.Printf("stepup: discarding unserializable transaction for subject=%q session=%s: %v", subjectID, record.ID, err)
		} else {
			record.TransactionJSON = string(data)
		}
	}

	if err := s.store.CreateSession(ctx, record); err != nil {
		return session.StartedSession{}, errors.Wrap(errors.CodeStorageFailure, "persist session", err)
	}

	return session.StartedSession{
		SessionID:       record.ID,
		SubjectID:       record.SubjectID,
		UserCode:        record.UserCode,
		TransactionJSON: record.TransactionJSON,
	}, nil
}

// Get returns the stored session record.
func (s *Service) Get(ctx context.Context, sessionID string) (session.Session, error) {
	record, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, s.storageErr("load session", sessionID, err)
	}
	return record, nil
}

// CodeOptions returns the PIN_2D selection set for sessionID: the real
// code plus random decoys in shuffled order. Only PIN_2D sessions have
// code options.
func (s *Service) CodeOptions(ctx context.Context, sessionID string) (session.CodeOptions, error) {
	record, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return session.CodeOptions{}, s.storageErr("load session", sessionID, err)
	}

	if record.AuthType != session.AuthTypePin2D {
		return session.CodeOptions{}, errors.New(errors.CodeUnsupportedAuthType,
			"user code options only available for PIN_2D authentication type")
	}

	return session.CodeOptions{
		SessionID: record.ID,
		Codes:     s.codes.Options(record.UserCode),
	}, nil
}

// Verify checks a submitted code against the session's stored code.
//
// It fails soft: a missing session, a SILENT session, or a wrong code all
// yield Success=false without error. A correct submission persists the
// verified flag exactly once; repeating it is idempotent and keeps the
// original VerifiedAt. Verification never reverts.
func (s *Service) Verify(ctx context.Context, sessionID string, submittedCode string) (session.VerificationResult, error) {
	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	record, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.AsDomain(err).Code == errors.CodeNotFound {
			return session.VerificationResult{}, nil
		}
		return session.VerificationResult{}, s.storageErr("load session", sessionID, err)
	}

	if record.UserCode == "" || submittedCode != record.UserCode {
		return session.VerificationResult{}, nil
	}

	if record.Verified {
		return session.VerificationResult{Success: true, VerifiedAt: record.VerifiedAt}, nil
	}

	verifiedAt := s.now().UTC()
	record.Verified = true
	record.VerifiedAt = &verifiedAt
	if err := s.store.UpdateSession(ctx, record); err != nil {
		return session.VerificationResult{}, s.storageErr("persist verification", sessionID, err)
	}

	if s.notifier != nil {
		s.notifier.AuthCompleted(sessionID)
	}

	return session.VerificationResult{Success: true, VerifiedAt: &verifiedAt}, nil
}

// StorePayload attaches the signed payload to a session. Non-SILENT
// sessions must be verified first.
func (s *Service) StorePayload(ctx context.Context, sessionID string, payload string) error {
	if payload == "" {
		return errors.New(errors.CodePayloadRequired, "signed payload is required")
	}

	mu := s.lock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	record, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return s.storageErr("load session", sessionID, err)
	}

	if record.AuthType.RequiresVerification() && !record.Verified {
		return errors.New(errors.CodeVerificationRequired,
			"cannot store payload: user code has not been verified")
	}

	record.SignedPayload = payload
	if err := s.store.UpdateSession(ctx, record); err != nil {
		return s.storageErr("persist payload", sessionID, err)
	}
	return nil
}

// Delete removes a session unconditionally. Deleting a missing session is
// not an error.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return s.storageErr("delete session", sessionID, err)
	}
	return nil
}

// storageErr passes domain errors through and wraps infrastructure
// failures with operation context for the server log.
func (s *Service) storageErr(op string, sessionID string, err error) error {
	domainErr := errors.AsDomain(err)
	if domainErr.Code != errors.CodeUnknown {
		return err
	}
	log.Printf("stepup: %s failed for session=%s: %v", op, sessionID, err)
	return errors.Wrap(errors.CodeStorageFailure, op, err)
}
