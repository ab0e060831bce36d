package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/strongholdauth/stronghold/internal/stepup/code"
	"github.com/strongholdauth/stronghold/internal/stepup/hub"
	"github.com/strongholdauth/stronghold/internal/stepup/service"
	"github.com/strongholdauth/stronghold/internal/stepup/storage/memory"
)

type testFixture struct {
	srv *httptest.Server
	hub *hub.Hub
}

func newTestFixture(t *testing.T) testFixture {
	t.Helper()
	notificationHub := hub.New()
	lifecycle := service.New(memory.New(0), code.NewGenerator(), completionNotifier{hub: notificationHub})
	srv := httptest.NewServer(newHandler(lifecycle, notificationHub))
	t.Cleanup(srv.Close)
	return testFixture{srv: srv, hub: notificationHub}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getURL(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return out
}

func startTestSession(t *testing.T, fixture testFixture, authType string) startSessionResponse {
	t.Helper()
	resp := postJSON(t, fixture.srv.URL+"/mobile-sign/start-session", startSessionRequest{
		SubjectID: "user123",
		AuthType:  authType,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start session status = %d", resp.StatusCode)
	}
	return decodeBody[startSessionResponse](t, resp)
}

func TestStartVerifyStoreFlow(t *testing.T) {
	fixture := newTestFixture(t)

	started := startTestSession(t, fixture, "PIN_2D")
	if started.SessionID == "" {
		t.Fatal("expected a session id")
	}
	if started.UserCode == nil || len(*started.UserCode) != 2 {
		t.Fatalf("expected 2-digit user code, got %v", started.UserCode)
	}
	if started.UserCodeVerified || started.UserCodeVerifiedAt != nil {
		t.Fatal("new session must be unverified")
	}

	verifyResp := postJSON(t, fixture.srv.URL+"/mobile-sign/verify-user-code", verifyUserCodeRequest{
		SessionID: started.SessionID,
		UserCode:  *started.UserCode,
	})
	if verifyResp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", verifyResp.StatusCode)
	}
	verified := decodeBody[verifyUserCodeResponse](t, verifyResp)
	if !verified.Success || verified.VerifiedAt == nil {
		t.Fatalf("expected successful verification, got %+v", verified)
	}

	storeResp := postJSON(t, fixture.srv.URL+"/mobile-sign/store-payload", storePayloadRequest{
		SessionID:     started.SessionID,
		SignedPayload: "payload-xyz",
	})
	if storeResp.StatusCode != http.StatusOK {
		t.Fatalf("store payload status = %d", storeResp.StatusCode)
	}
	if status := decodeBody[statusResponse](t, storeResp); status.Status != "success" {
		t.Fatalf("expected success status, got %q", status.Status)
	}

	detailResp := getURL(t, fixture.srv.URL+"/mobile-sign/sessions/"+started.SessionID)
	if detailResp.StatusCode != http.StatusOK {
		t.Fatalf("session detail status = %d", detailResp.StatusCode)
	}
	detail := decodeBody[sessionDetailResponse](t, detailResp)
	if detail.SignedPayload == nil || *detail.SignedPayload != "payload-xyz" {
		t.Fatalf("expected stored payload in detail view, got %v", detail.SignedPayload)
	}
	if !detail.UserCodeVerified {
		t.Fatal("expected verified session in detail view")
	}
}

func TestStartSessionValidation(t *testing.T) {
	fixture := newTestFixture(t)

	tests := []struct {
		name string
		body startSessionRequest
	}{
		{name: "missing subject", body: startSessionRequest{AuthType: "PIN_2D"}},
		{name: "unknown auth type", body: startSessionRequest{SubjectID: "user123", AuthType: "PIN_3D"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, fixture.srv.URL+"/mobile-sign/start-session", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			failure := decodeBody[errorResponse](t, resp)
			if failure.Status != "error" || failure.Message == "" {
				t.Fatalf("expected error envelope, got %+v", failure)
			}
		})
	}
}

func TestVerifyWrongCodeAnswersFalse(t *testing.T) {
	fixture := newTestFixture(t)
	started := startTestSession(t, fixture, "PIN_2D")

	wrong := "00"
	if wrong == *started.UserCode {
		wrong = "01"
	}
	resp := postJSON(t, fixture.srv.URL+"/mobile-sign/verify-user-code", verifyUserCodeRequest{
		SessionID: started.SessionID,
		UserCode:  wrong,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", resp.StatusCode)
	}
	verified := decodeBody[verifyUserCodeResponse](t, resp)
	if verified.Success || verified.VerifiedAt != nil {
		t.Fatalf("expected failed verification, got %+v", verified)
	}
}

func TestUserCodeOptions(t *testing.T) {
	fixture := newTestFixture(t)
	started := startTestSession(t, fixture, "PIN_2D")

	resp := getURL(t, fixture.srv.URL+"/mobile-sign/sessions/"+started.SessionID+"/user-code-options")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("options status = %d", resp.StatusCode)
	}
	options := decodeBody[codeOptionsResponse](t, resp)
	if options.SessionID != started.SessionID {
		t.Fatalf("expected session id %q, got %q", started.SessionID, options.SessionID)
	}
	if len(options.UserCodes) != 3 {
		t.Fatalf("expected 3 codes, got %d", len(options.UserCodes))
	}
	found := false
	for _, option := range options.UserCodes {
		if option == *started.UserCode {
			found = true
		}
	}
	if !found {
		t.Fatalf("real code %q missing from %v", *started.UserCode, options.UserCodes)
	}
}

func TestUserCodeOptionsRejectsOtherAuthTypes(t *testing.T) {
	fixture := newTestFixture(t)
	started := startTestSession(t, fixture, "USER_CODE")

	resp := getURL(t, fixture.srv.URL+"/mobile-sign/sessions/"+started.SessionID+"/user-code-options")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	failure := decodeBody[errorResponse](t, resp)
	if failure.Message != "user code options only available for PIN_2D authentication type" {
		t.Fatalf("unexpected message %q", failure.Message)
	}
}

func TestStorePayloadRequiresVerification(t *testing.T) {
	fixture := newTestFixture(t)
	started := startTestSession(t, fixture, "PIN_2D")

	resp := postJSON(t, fixture.srv.URL+"/mobile-sign/store-payload", storePayloadRequest{
		SessionID:     started.SessionID,
		SignedPayload: "payload-xyz",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	failure := decodeBody[errorResponse](t, resp)
	if failure.Message != "cannot store payload: user code has not been verified" {
		t.Fatalf("unexpected message %q", failure.Message)
	}
}

func TestStorePayloadOnSilentSession(t *testing.T) {
	fixture := newTestFixture(t)
	started := startTestSession(t, fixture, "SILENT")
	if started.UserCode != nil {
		t.Fatalf("expected no user code for SILENT, got %v", started.UserCode)
	}

	resp := postJSON(t, fixture.srv.URL+"/mobile-sign/store-payload", storePayloadRequest{
		SessionID:     started.SessionID,
		SignedPayload: "p",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	fixture := newTestFixture(t)
	started := startTestSession(t, fixture, "PIN_2D")

	req, err := http.NewRequest(http.MethodDelete, fixture.srv.URL+"/mobile-sign/sessions/"+started.SessionID, nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if status := decodeBody[statusResponse](t, resp); status.Status != "success" {
		t.Fatalf("expected success status, got %q", status.Status)
	}

	detailResp := getURL(t, fixture.srv.URL+"/mobile-sign/sessions/"+started.SessionID)
	if detailResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("detail after delete status = %d, want 400", detailResp.StatusCode)
	}
}

func TestSessionDetailShowsJWTClaims(t *testing.T) {
	fixture := newTestFixture(t)
	started := startTestSession(t, fixture, "SILENT")

	// Unsigned JWS with claims {"sub":"user123"}; the detail view surfaces
	// claims without verifying the signature.
	payload := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." +
		"eyJzdWIiOiJ1c2VyMTIzIn0."
	resp := postJSON(t, fixture.srv.URL+"/mobile-sign/store-payload", storePayloadRequest{
		SessionID:     started.SessionID,
		SignedPayload: payload,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("store payload status = %d", resp.StatusCode)
	}

	detail := decodeBody[sessionDetailResponse](t, getURL(t, fixture.srv.URL+"/mobile-sign/sessions/"+started.SessionID))
	if detail.PayloadClaims["sub"] != "user123" {
		t.Fatalf("expected sub claim, got %v", detail.PayloadClaims)
	}
}

func TestPollingDeliversCompletion(t *testing.T) {
	fixture := newTestFixture(t)
	started := startTestSession(t, fixture, "PIN_2D")

	registerResp := postJSON(t, fixture.srv.URL+"/register-polling", registerPollingRequest{ClientID: started.SessionID})
	if registerResp.StatusCode != http.StatusOK {
		t.Fatalf("register status = %d", registerResp.StatusCode)
	}
	registered := decodeBody[registerPollingResponse](t, registerResp)
	if registered.ClientID != started.SessionID {
		t.Fatalf("expected client id %q, got %q", started.SessionID, registered.ClientID)
	}

	empty := decodeBody[pollUpdatesResponse](t, getURL(t, fixture.srv.URL+"/poll-updates/"+registered.ClientID))
	if len(empty.Events) != 0 {
		t.Fatalf("expected no events before verification, got %v", empty.Events)
	}

	verifyResp := postJSON(t, fixture.srv.URL+"/mobile-sign/verify-user-code", verifyUserCodeRequest{
		SessionID: started.SessionID,
		UserCode:  *started.UserCode,
	})
	if verifyResp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", verifyResp.StatusCode)
	}

	drained := decodeBody[pollUpdatesResponse](t, getURL(t, fixture.srv.URL+"/poll-updates/"+registered.ClientID))
	if len(drained.Events) != 1 || drained.Events[0].Type != hub.EventAuthComplete {
		t.Fatalf("expected one auth_complete event, got %v", drained.Events)
	}

	// The registration is released once a completion event is handed over.
	afterResp := getURL(t, fixture.srv.URL+"/poll-updates/"+registered.ClientID)
	if afterResp.StatusCode != http.StatusBadRequest {
		t.Fatalf("poll after completion status = %d, want 400", afterResp.StatusCode)
	}
}

func TestPollingUnregisteredClient(t *testing.T) {
	fixture := newTestFixture(t)

	resp := getURL(t, fixture.srv.URL+"/poll-updates/nobody")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	failure := decodeBody[errorResponse](t, resp)
	if failure.Message != "polling client not registered" {
		t.Fatalf("unexpected message %q", failure.Message)
	}
}

func TestRegisterPollingIssuesClientID(t *testing.T) {
	fixture := newTestFixture(t)

	resp := postJSON(t, fixture.srv.URL+"/register-polling", struct{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	registered := decodeBody[registerPollingResponse](t, resp)
	if registered.ClientID == "" {
		t.Fatal("expected an issued client id")
	}
	if fixture.hub.Channel(registered.ClientID) == nil {
		t.Fatal("expected queue registered under issued client id")
	}
}

func TestEventStreamDeliversCompletion(t *testing.T) {
	fixture := newTestFixture(t)

	req, err := http.NewRequest(http.MethodGet, fixture.srv.URL+"/sse/stream-1", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open event stream: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	reader := bufio.NewReader(resp.Body)
	event, data := readSSEFrame(t, reader)
	if event != "registered" {
		t.Fatalf("first frame event = %q, want registered", event)
	}
	if !strings.Contains(data, "stream-1") {
		t.Fatalf("registration ack missing client id: %q", data)
	}

	// The registration ack was written after Subscribe, so publishing is
	// safe now.
	if !fixture.hub.Publish("stream-1", hub.Event{Type: hub.EventAuthComplete}) {
		t.Fatal("expected publish to reach the stream channel")
	}

	event, data = readSSEFrame(t, reader)
	if event != hub.EventAuthComplete {
		t.Fatalf("second frame event = %q, want %s", event, hub.EventAuthComplete)
	}
	var frame hub.Event
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		t.Fatalf("decode frame data: %v", err)
	}
	if frame.Type != hub.EventAuthComplete || frame.Data != nil {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func readSSEFrame(t *testing.T, reader *bufio.Reader) (event string, data string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		case line == "" && event != "":
			return event, data
		}
	}
	t.Fatal("timed out waiting for event stream frame")
	return "", ""
}

func TestHealthEndpoint(t *testing.T) {
	fixture := newTestFixture(t)

	resp := getURL(t, fixture.srv.URL+"/up")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	fixture := newTestFixture(t)

	resp := getURL(t, fixture.srv.URL+"/mobile-sign/start-session")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodPost {
		t.Fatalf("Allow = %q, want POST", allow)
	}
}

func TestSessionsSubtreeUnknownPath(t *testing.T) {
	fixture := newTestFixture(t)

	resp := getURL(t, fmt.Sprintf("%s/mobile-sign/sessions/a/b/c", fixture.srv.URL))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
