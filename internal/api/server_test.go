package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"jobdesk/internal/domain"
	"jobdesk/internal/lifecycle"
	"jobdesk/internal/store"
	"jobdesk/internal/webhook"
)

type webhookRecorder struct {
	mu       sync.Mutex
	received []domain.Notification
}

func (r *webhookRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var n domain.Notification
	_ = json.NewDecoder(req.Body).Decode(&n)
	r.mu.Lock()
	r.received = append(r.received, n)
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (r *webhookRecorder) notifications() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.received...)
}

type testEnv struct {
	srv      *httptest.Server
	webhooks *webhookRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	db, err := sql.Open("sqlite", "file:"+path+"?cache=shared&mode=rwc")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))

	recorder := &webhookRecorder{}
	webhookSrv := httptest.NewServer(recorder)
	t.Cleanup(webhookSrv.Close)

	repo := store.NewSQLiteRepo(db)
	notifier := webhook.NewNotifier(webhookSrv.URL, time.Second)
	jobs := lifecycle.NewService(repo, notifier, 100*time.Millisecond)

	srv := httptest.NewServer(NewServer(jobs))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, webhooks: recorder}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func (e *testEnv) createJob(t *testing.T, taskName, priority string, payload any) int64 {
	t.Helper()
	resp, body := e.do(t, "POST", "/jobs", map[string]any{
		"taskName": taskName,
		"priority": priority,
		"payload":  payload,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, ok := body["jobId"].(float64)
	require.True(t, ok, "jobId missing in %v", body)
	return int64(id)
}

func (e *testEnv) getJob(t *testing.T, id int64) (int, map[string]any) {
	t.Helper()
	resp, body := e.do(t, "GET", fmt.Sprintf("/jobs/%d", id), nil)
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndGet(t *testing.T) {
	env := newTestEnv(t)

	id := env.createJob(t, "send-email", "High", map[string]any{"to": "a@b.com"})

	code, job := env.getJob(t, id)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "send-email", job["taskName"])
	require.Equal(t, "High", job["priority"])
	require.Equal(t, "pending", job["status"])
	require.Equal(t, "pending", job["webhookStatus"])
	require.NotContains(t, job, "completedAt")
}

func TestCreateMissingFields(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "POST", "/jobs", map[string]any{"taskName": "no-priority"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "taskName and priority are required", body["message"])

	resp, _ = env.do(t, "POST", "/jobs", map[string]any{"priority": "Low"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Nothing was persisted.
	listResp, err := http.Get(env.srv.URL + "/jobs")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var jobs []map[string]any
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&jobs))
	require.Empty(t, jobs)
}

func TestGetUnknown(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.getJob(t, 1234)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "Job not found", body["message"])

	resp, _ := env.do(t, "GET", "/jobs/not-a-number", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListFilters(t *testing.T) {
	env := newTestEnv(t)

	env.createJob(t, "a", "High", nil)
	env.createJob(t, "b", "Low", nil)
	env.createJob(t, "c", "High", nil)

	resp, err := http.Get(env.srv.URL + "/jobs?priority=High&status=pending")
	require.NoError(t, err)
	defer resp.Body.Close()
	var jobs []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		require.Equal(t, "High", j["priority"])
		require.Equal(t, "pending", j["status"])
	}
}

func TestRunEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	id := env.createJob(t, "send-email", "High", map[string]any{"to": "a@b.com"})

	resp, body := env.do(t, "POST", fmt.Sprintf("/jobs/%d/run", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Job started", body["message"])

	code, job := env.getJob(t, id)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "running", job["status"])

	require.Eventually(t, func() bool {
		_, job := env.getJob(t, id)
		return job["status"] == "completed" && job["webhookStatus"] == "success"
	}, 3*time.Second, 20*time.Millisecond)

	_, job = env.getJob(t, id)
	require.NotEmpty(t, job["completedAt"])

	notes := env.webhooks.notifications()
	require.Len(t, notes, 1)
	require.Equal(t, id, notes[0].JobID)
	require.Equal(t, "send-email", notes[0].TaskName)
	require.Equal(t, domain.StatusCompleted, notes[0].Status)
	require.JSONEq(t, `{"to":"a@b.com"}`, string(notes[0].Payload))
}

func TestRunRejections(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, "POST", "/jobs/999/run", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "Job not found", body["message"])

	id := env.createJob(t, "task", "Low", nil)
	resp, _ = env.do(t, "POST", fmt.Sprintf("/jobs/%d/run", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, "POST", fmt.Sprintf("/jobs/%d/run", id), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["message"], "Job already")
}

func TestUpdateJob(t *testing.T) {
	env := newTestEnv(t)

	id := env.createJob(t, "old", "Low", nil)

	resp, body := env.do(t, "PATCH", fmt.Sprintf("/jobs/%d", id), map[string]any{
		"taskName": "new", "priority": "High",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Job updated successfully", body["message"])

	_, job := env.getJob(t, id)
	require.Equal(t, "new", job["taskName"])
	require.Equal(t, "High", job["priority"])

	resp, _ = env.do(t, "PATCH", fmt.Sprintf("/jobs/%d", id), map[string]any{"taskName": "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, "PATCH", "/jobs/999", map[string]any{"taskName": "x", "priority": "Low"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteJob(t *testing.T) {
	env := newTestEnv(t)

	id := env.createJob(t, "task", "Low", nil)

	resp, body := env.do(t, "DELETE", fmt.Sprintf("/jobs/%d", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Job deleted successfully", body["message"])

	code, _ := env.getJob(t, id)
	require.Equal(t, http.StatusNotFound, code)

	running := env.createJob(t, "busy", "High", nil)
	resp, _ = env.do(t, "POST", fmt.Sprintf("/jobs/%d/run", running), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, "DELETE", fmt.Sprintf("/jobs/%d", running), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Cannot delete a running job", body["message"])
}
