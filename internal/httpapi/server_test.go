package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"

	"golang.org/x/crypto/bcrypt"

	authpkg "github.com/fossclaw/fossclaw/internal/auth"
	"github.com/fossclaw/fossclaw/internal/bridge"
	"github.com/fossclaw/fossclaw/internal/cron"
	"github.com/fossclaw/fossclaw/internal/launcher"
)

func setupTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	br := bridge.New(nil, nil, nil, nil)
	spawn := func(sessionID, socketURL, cwd, resumeSessionID string) (*exec.Cmd, error) {
		return exec.Command("sleep", "5"), nil
	}
	l := launcher.New(br, spawn, func(string) string { return "" }, t.TempDir(), nil, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatal(err)
	}
	authSvc := authpkg.NewService(authpkg.Credentials{Username: "admin", PasswordHash: string(hash)}, t.TempDir()+"/auth-sessions.json", nil)

	cronStore, err := cron.New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	registry := cron.NewRegistry()
	sched := cron.NewScheduler(cronStore, registry, l, br, nil)

	srv := New(Config{Version: "test"}, br, l, authSvc, sched, cronStore, nil, nil)

	cookie, err := authSvc.Login("admin", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	return srv, cookie
}

func doRequest(t *testing.T, srv *Server, method, path, cookie string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: cookie})
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	srv, _ := setupTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSessionsRequireAuth(t *testing.T) {
	srv, _ := setupTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/sessions", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLoginThenListSessions(t *testing.T) {
	srv, cookie := setupTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/sessions", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sessions []sessionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions yet, got %d", len(sessions))
	}
}

func TestCreateSessionThenGetThenRename(t *testing.T) {
	srv, cookie := setupTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/create", cookie, map[string]string{"model": "sonnet"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions/"+created.SessionID, cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPatch, "/api/sessions/"+created.SessionID+"/name", cookie, map[string]string{"name": "my session"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/sessions/"+created.SessionID, cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
}

func TestGetUnknownSessionIs404(t *testing.T) {
	srv, cookie := setupTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/sessions/does-not-exist", cookie, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUpdatesCheckWithoutCollaboratorIs501(t *testing.T) {
	srv, _ := setupTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/updates/check", "", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestCronJobLifecycle(t *testing.T) {
	srv, cookie := setupTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/cron/jobs", cookie, map[string]any{
		"name": "poll", "type": "http-poll", "intervalSeconds": 60, "enabled": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create job status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var job struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/cron/jobs/"+job.ID+"/toggle", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/cron/jobs/"+job.ID+"/runs", cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("runs status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/cron/jobs/"+job.ID, cookie, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete job status = %d", rec.Code)
	}
}

func TestCreateSessionUnconfiguredAdapterProvidersAre501(t *testing.T) {
	srv, cookie := setupTestServer(t)

	for _, provider := range []string{"sse-adapter", "rpc-adapter"} {
		rec := doRequest(t, srv, http.MethodPost, "/api/sessions/create", cookie, map[string]any{
			"provider": provider,
		})
		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("provider %q: status = %d, want 501, body = %s", provider, rec.Code, rec.Body.String())
		}
	}
}
