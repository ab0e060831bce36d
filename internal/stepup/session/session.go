// Package session defines the step-up session record and its views.
//
// A session tracks one authentication attempt from the moment a primary
// device starts it until a secondary device verifies the code and the
// signed result is stored. The record itself carries no transport state.
package session

import (
	"strings"
	"time"

	"github.com/strongholdauth/stronghold/internal/platform/errors"
)

// AuthType is the authentication modality selected at session start. It
// determines the code shape and whether verification is required before a
// payload may be stored.
type AuthType string

const (
	AuthTypeQRCode   AuthType = "QR_CODE"
	AuthTypeUserCode AuthType = "USER_CODE"
	AuthTypePin2D    AuthType = "PIN_2D"
	AuthTypePin8D    AuthType = "PIN_8D"
	AuthTypeSilent   AuthType = "SILENT"
)

// ParseAuthType validates a caller-supplied auth type string.
func ParseAuthType(value string) (AuthType, error) {
	switch AuthType(strings.TrimSpace(value)) {
	case AuthTypeQRCode:
		return AuthTypeQRCode, nil
	case AuthTypeUserCode:
		return AuthTypeUserCode, nil
	case AuthTypePin2D:
		return AuthTypePin2D, nil
	case AuthTypePin8D:
		return AuthTypePin8D, nil
	case AuthTypeSilent:
		return AuthTypeSilent, nil
	default:
		return "", errors.WithMetadata(errors.CodeInvalidAuthType,
			"unknown authentication type", map[string]string{"type": value})
	}
}

// RequiresVerification reports whether a payload may only be stored after
// a successful code verification.
func (t AuthType) RequiresVerification() bool {
	return t != AuthTypeSilent
}

// Session is one authentication attempt's durable state.
//
// UserCode is immutable after creation and empty for SILENT sessions.
// Verified is monotonic: once true it never reverts, and VerifiedAt is
// set exactly when the transition happens.
type Session struct {
	ID              string
	SubjectID       string
	AuthType        AuthType
	UserCode        string
	TransactionJSON string // opaque serialized metadata, empty when absent
	SignedPayload   string
	Verified        bool
	VerifiedAt      *time.Time
	CreatedAt       time.Time
}

// StartedSession is the view returned to the party that starts a session.
type StartedSession struct {
	SessionID          string
	SubjectID          string
	UserCode           string
	TransactionJSON    string
	UserCodeVerified   bool
	UserCodeVerifiedAt *time.Time
}

// CodeOptions is the PIN_2D selection set shown on the secondary device.
// The real code is always among Codes; the order is shuffled.
type CodeOptions struct {
	SessionID string
	Codes     []string
}

// VerificationResult describes the outcome of a code submission.
type VerificationResult struct {
	Success    bool
	VerifiedAt *time.Time
}
