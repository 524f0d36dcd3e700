package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/worklog/internal/auth"
	"github.com/MarcoPoloResearchLab/worklog/internal/users"
	"github.com/MarcoPoloResearchLab/worklog/internal/worklog"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newHandlerTestContext(t *testing.T, method, target, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	ctx.Request = request
	ctx.Set(identityContextKey, auth.Identity{Username: "alice", Role: auth.RoleUser})
	return ctx, recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestHandleSyncUploadRejectsMalformedBody(t *testing.T) {
	ctx, recorder := newHandlerTestContext(t, http.MethodPost, "/data/sync/upload", `{"d":"2024-03-05"}`)
	handler := &httpHandler{worklog: &worklog.Service{}, logger: zap.NewNop()}

	handler.handleSyncUpload(ctx)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusBadRequest)
	}
	if decodeBody(t, recorder)["error"] != "invalid_request" {
		t.Fatalf("unexpected body: %s", recorder.Body.String())
	}
}

func TestHandleSyncUploadReportsServiceErrorCode(t *testing.T) {
	ctx, recorder := newHandlerTestContext(t, http.MethodPost, "/data/sync/upload", `[]`)
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{worklog: &worklog.Service{}, logger: zap.New(core)}

	handler.handleSyncUpload(ctx)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusInternalServerError)
	}
	body := decodeBody(t, recorder)
	if body["error"] != "sync_upload_failed" {
		t.Fatalf("unexpected error: %v", body["error"])
	}
	if body["code"] != "worklog.sync_upload.missing_database" {
		t.Fatalf("unexpected code: %v", body["code"])
	}
	if body["uploaded"] != float64(0) || body["skipped"] != float64(0) {
		t.Fatalf("expected partial counts in error body, got %v", body)
	}
	if logs.FilterMessage("request failed").Len() != 1 {
		t.Fatalf("expected server failure to be logged, got %v", logs.All())
	}
}

func TestHandleSyncUploadRejectsNonArrayBodies(t *testing.T) {
	for _, body := range []string{`null`, `{"days":[]}`, `"2024-03-05"`} {
		ctx, recorder := newHandlerTestContext(t, http.MethodPost, "/data/sync/upload", body)
		handler := &httpHandler{worklog: &worklog.Service{}, logger: zap.NewNop()}

		handler.handleSyncUpload(ctx)

		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("body %s: unexpected status code: got %d, want %d", body, recorder.Code, http.StatusBadRequest)
		}
		if _, ok := decodeBody(t, recorder)["success"]; ok {
			t.Fatalf("body %s: expected no success flag, got %s", body, recorder.Body.String())
		}
	}
}

func TestHandleAdminBulkSyncRequiresLocalTimestampsPerUser(t *testing.T) {
	body := `{"syncRequests":[{"username":"alice","localTimestamps":{}},{"username":"bob"}]}`
	ctx, recorder := newHandlerTestContext(t, http.MethodPost, "/admin/users/sync", body)
	ctx.Set(identityContextKey, auth.Identity{Username: "root", Role: auth.RoleAdmin})
	handler := &httpHandler{worklog: &worklog.Service{}, logger: zap.NewNop()}

	handler.handleAdminBulkSync(ctx)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusBadRequest)
	}
	payload := decodeBody(t, recorder)
	if payload["error"] != "invalid_request" || payload["username"] != "bob" {
		t.Fatalf("unexpected body: %s", recorder.Body.String())
	}
}

func TestHandleSyncCheckRequiresLocalTimestamps(t *testing.T) {
	ctx, recorder := newHandlerTestContext(t, http.MethodPost, "/data/sync/check", `{}`)
	handler := &httpHandler{worklog: &worklog.Service{}, logger: zap.NewNop()}

	handler.handleSyncCheck(ctx)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusBadRequest)
	}
}

func TestHandleSetDayLockRequiresBothFlags(t *testing.T) {
	ctx, recorder := newHandlerTestContext(t, http.MethodPut, "/admin/days/bob/2024-03-05/lock", `{"al":true}`)
	ctx.Set(identityContextKey, auth.Identity{Username: "root", Role: auth.RoleAdmin})
	ctx.Params = gin.Params{{Key: "username", Value: "bob"}, {Key: "date", Value: "2024-03-05"}}
	handler := &httpHandler{worklog: &worklog.Service{}, logger: zap.NewNop()}

	handler.handleSetDayLock(ctx)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusBadRequest)
	}
}

func TestHandleListUsersRendersDirectory(t *testing.T) {
	ctx, recorder := newHandlerTestContext(t, http.MethodGet, "/data/users", "")
	seenAt := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	directory := &stubUserDirectory{listed: []users.User{
		{Username: "alice", Role: "user", LastSeenAt: seenAt, CreatedAt: seenAt},
		{Username: "root", Role: "admin", LastSeenAt: seenAt, CreatedAt: seenAt},
	}}
	handler := &httpHandler{users: directory, logger: zap.NewNop()}

	handler.handleListUsers(ctx)

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusOK)
	}
	var payload struct {
		Success bool          `json:"success"`
		Users   []userPayload `json:"users"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !payload.Success || len(payload.Users) != 2 || payload.Users[1].Role != "admin" {
		t.Fatalf("unexpected users payload: %#v", payload)
	}
}

func TestHandleListUsersMapsDirectoryFailure(t *testing.T) {
	ctx, recorder := newHandlerTestContext(t, http.MethodGet, "/data/users", "")
	handler := &httpHandler{users: &stubUserDirectory{listErr: errors.New("locked")}, logger: zap.NewNop()}

	handler.handleListUsers(ctx)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusInternalServerError)
	}
	if decodeBody(t, recorder)["error"] != "list_users_failed" {
		t.Fatalf("unexpected body: %s", recorder.Body.String())
	}
}

func TestRespondServiceErrorMapsSentinels(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "validation", err: worklog.ErrValidation, wantStatus: http.StatusBadRequest, wantError: "invalid_request"},
		{name: "unknown user", err: worklog.ErrUserNotFound, wantStatus: http.StatusNotFound, wantError: "user_not_found"},
		{name: "missing day", err: worklog.ErrDayNotFound, wantStatus: http.StatusNotFound, wantError: "day_not_found"},
		{name: "store failure", err: worklog.ErrStore, wantStatus: http.StatusInternalServerError, wantError: "fallback_error"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			ctx, recorder := newHandlerTestContext(t, http.MethodGet, "/", "")
			handler := &httpHandler{logger: zap.NewNop()}

			handler.respondServiceError(ctx, testCase.err, "fallback_error")

			if recorder.Code != testCase.wantStatus {
				t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, testCase.wantStatus)
			}
			if decodeBody(t, recorder)["error"] != testCase.wantError {
				t.Fatalf("unexpected body: %s", recorder.Body.String())
			}
		})
	}
}

func TestHandleStatusReportsUptime(t *testing.T) {
	ctx, recorder := newHandlerTestContext(t, http.MethodGet, "/status", "")
	startedAt := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	handler := &httpHandler{
		logger:    zap.NewNop(),
		startedAt: startedAt,
		clock:     func() time.Time { return startedAt.Add(90 * time.Second) },
	}

	handler.handleStatus(ctx)

	body := decodeBody(t, recorder)
	if body["status"] != "ok" || body["uptime"] != float64(90) {
		t.Fatalf("unexpected status body: %v", body)
	}
	if body["timestamp"] != "2024-03-05T10:01:30Z" {
		t.Fatalf("unexpected timestamp: %v", body["timestamp"])
	}
}
