package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/strongholdauth/stronghold/internal/platform/errors"
	"github.com/strongholdauth/stronghold/internal/stepup/hub"
	"github.com/strongholdauth/stronghold/internal/stepup/service"
	"github.com/strongholdauth/stronghold/internal/stepup/session"
)

type httpHandlers struct {
	lifecycle *service.Service
	hub       *hub.Hub
}

type startSessionRequest struct {
	SubjectID   string         `json:"subjectId"`
	AuthType    string         `json:"authType"`
	Transaction map[string]any `json:"transaction"`
}

type startSessionResponse struct {
	SessionID          string          `json:"sessionId"`
	UserCode           *string         `json:"userCode"`
	SubjectID          string          `json:"subjectId"`
	Transaction        json.RawMessage `json:"transaction"`
	UserCodeVerified   bool            `json:"userCodeVerified"`
	UserCodeVerifiedAt *time.Time      `json:"userCodeVerifiedAt"`
}

type codeOptionsResponse struct {
	UserCodes []string `json:"userCodes"`
	SessionID string   `json:"sessionId"`
}

type verifyUserCodeRequest struct {
	UserCode  string `json:"userCode"`
	SessionID string `json:"sessionId"`
}

type verifyUserCodeResponse struct {
	Success    bool       `json:"success"`
	VerifiedAt *time.Time `json:"verifiedAt"`
}

type storePayloadRequest struct {
	SessionID     string `json:"sessionId"`
	SignedPayload string `json:"signedPayload"`
}

type sessionDetailResponse struct {
	SessionID          string          `json:"sessionId"`
	SubjectID          string          `json:"subjectId"`
	AuthType           string          `json:"authType"`
	UserCode           *string         `json:"userCode"`
	Transaction        json.RawMessage `json:"transaction"`
	SignedPayload      *string         `json:"signedPayload"`
	PayloadClaims      map[string]any  `json:"payloadClaims,omitempty"`
	UserCodeVerified   bool            `json:"userCodeVerified"`
	UserCodeVerifiedAt *time.Time      `json:"userCodeVerifiedAt"`
	CreatedAt          time.Time       `json:"createdAt"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *httpHandlers) startSession(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, errors.New(errors.CodeInvalidRequest, "invalid request body"))
		return
	}

	authType, err := session.ParseAuthType(req.AuthType)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	started, err := h.lifecycle.Start(r.Context(), strings.TrimSpace(req.SubjectID), authType, req.Transaction)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, startSessionResponse{
		SessionID:   started.SessionID,
		UserCode:    optionalString(started.UserCode),
		SubjectID:   started.SubjectID,
		Transaction: rawOrNull(started.TransactionJSON),
	})
}

func (h *httpHandlers) verifyUserCode(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req verifyUserCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, errors.New(errors.CodeInvalidRequest, "invalid request body"))
		return
	}

	result, err := h.lifecycle.Verify(r.Context(), strings.TrimSpace(req.SessionID), strings.TrimSpace(req.UserCode))
	if err != nil {
		writeJSONError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyUserCodeResponse{
		Success:    result.Success,
		VerifiedAt: result.VerifiedAt,
	})
}

func (h *httpHandlers) storePayload(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req storePayloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, errors.New(errors.CodeInvalidRequest, "invalid request body"))
		return
	}

	if err := h.lifecycle.StorePayload(r.Context(), strings.TrimSpace(req.SessionID), req.SignedPayload); err != nil {
		writeJSONError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// sessionsSubtree routes /mobile-sign/sessions/{sessionId} and
// /mobile-sign/sessions/{sessionId}/user-code-options.
func (h *httpHandlers) sessionsSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/mobile-sign/sessions/"), "/")

	if strings.HasSuffix(rest, "/user-code-options") {
		sessionID := strings.TrimSuffix(rest, "/user-code-options")
		h.userCodeOptions(w, r, sessionID)
		return
	}

	if rest == "" || strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.sessionDetail(w, r, rest)
	case http.MethodDelete:
		h.deleteSession(w, r, rest)
	default:
		w.Header().Set("Allow", http.MethodGet+", "+http.MethodDelete)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *httpHandlers) userCodeOptions(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	options, err := h.lifecycle.CodeOptions(r.Context(), sessionID)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, codeOptionsResponse{
		UserCodes: options.Codes,
		SessionID: options.SessionID,
	})
}

func (h *httpHandlers) sessionDetail(w http.ResponseWriter, r *http.Request, sessionID string) {
	record, err := h.lifecycle.Get(r.Context(), sessionID)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionDetailResponse{
		SessionID:          record.ID,
		SubjectID:          record.SubjectID,
		AuthType:           string(record.AuthType),
		UserCode:           optionalString(record.UserCode),
		Transaction:        rawOrNull(record.TransactionJSON),
		SignedPayload:      optionalString(record.SignedPayload),
		PayloadClaims:      payloadClaims(record.SignedPayload),
		UserCodeVerified:   record.Verified,
		UserCodeVerifiedAt: record.VerifiedAt,
		CreatedAt:          record.CreatedAt,
	})
}

func (h *httpHandlers) deleteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := h.lifecycle.Delete(r.Context(), sessionID); err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// payloadClaims surfaces the claims of a JWS-shaped payload without
// verifying its signature. Non-JWT payloads yield no claims.
func payloadClaims(payload string) map[string]any {
	if payload == "" {
		return nil
	}
	token, _, err := jwt.NewParser().ParseUnverified(payload, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	return claims
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func rawOrNull(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(raw)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("stepup: write response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, err error) {
	domainErr := errors.AsDomain(err)
	status := domainErr.HTTPStatus()
	message := domainErr.Message
	if domainErr.Code == errors.CodeUnknown || status >= http.StatusInternalServerError {
		status = http.StatusInternalServerError
		message = "internal server error"
	}
	writeJSON(w, status, errorResponse{Status: "error", Message: message})
}
