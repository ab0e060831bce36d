package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeNotFound, "session missing")
	if !stderrors.Is(err, New(CodeNotFound, "other message")) {
		t.Fatal("expected code match regardless of message")
	}
	if stderrors.Is(err, New(CodeInvalidState, "session missing")) {
		t.Fatal("expected mismatch for different code")
	}
}

func TestIsMatchesThroughWrapping(t *testing.T) {
	inner := New(CodeStorageFailure, "write failed")
	outer := fmt.Errorf("persist session: %w", inner)
	if !stderrors.Is(outer, New(CodeStorageFailure, "")) {
		t.Fatal("expected match through fmt wrapping")
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeStorageFailure, "persist session", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in error chain")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusBadRequest},
		{CodeVerificationRequired, http.StatusBadRequest},
		{CodeUnsupportedAuthType, http.StatusBadRequest},
		{CodeSubjectRequired, http.StatusBadRequest},
		{CodeStorageFailure, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("code %s: expected %d, got %d", tc.code, tc.want, got)
		}
	}
}

func TestAsDomainWrapsForeignErrors(t *testing.T) {
	foreign := stderrors.New("boom")
	domainErr := AsDomain(foreign)
	if domainErr.Code != CodeUnknown {
		t.Fatalf("expected CodeUnknown, got %s", domainErr.Code)
	}
	if !stderrors.Is(domainErr, foreign) {
		t.Fatal("expected foreign error preserved as cause")
	}

	if AsDomain(nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	typed := New(CodeInvalidState, "bad state")
	if AsDomain(typed) != typed {
		t.Fatal("expected domain error returned unchanged")
	}
}
