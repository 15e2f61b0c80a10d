package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasktracker/internal/activity"
	"tasktracker/internal/auth"
	"tasktracker/internal/authz"
	"tasktracker/internal/models"
	"tasktracker/internal/notify"
	"tasktracker/internal/storage/sqlite"
	"tasktracker/internal/tasks"
)

const secret = "server-test-secret"

type testEnv struct {
	srv *Server
	hub *notify.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "tracker.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub := notify.New(store, logger, notify.Options{})
	svc := tasks.NewService(tasks.Deps{
		Store:    store,
		Comments: store,
		Recorder: activity.NewRecorder(store),
		Notifier: hub,
		Guard:    authz.New(authz.DefaultPolicy),
		Logger:   logger,
	})
	srv := New(Deps{
		Tasks:    svc,
		Hub:      hub,
		Verifier: auth.NewVerifier(secret),
		Store:    store,
		Logger:   logger,
	})
	return &testEnv{srv: srv, hub: hub}
}

func token(t *testing.T, userID string, role models.Role) string {
	t.Helper()

	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type taskEnvelope struct {
	Task models.Task `json:"task"`
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, "admin", models.RoleAdmin)
	alice := token(t, "alice", models.RoleUser)
	bob := token(t, "bob", models.RoleUser)

	rec := env.do(t, http.MethodPost, "/api/tasks", admin, map[string]any{
		"title":      "  Ship release  ",
		"priority":   "high",
		"assignedTo": []string{"alice"},
		"tags":       []string{"release"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[taskEnvelope](t, rec).Task
	assert.Equal(t, "Ship release", created.Title)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, "admin", created.CreatedBy)
	taskPath := "/api/tasks/" + created.ID

	rec = env.do(t, http.MethodGet, "/api/tasks", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct{ Tasks []models.Task }](t, rec).Tasks, 1)

	rec = env.do(t, http.MethodGet, "/api/tasks?assignedTo=alice", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[struct{ Tasks []models.Task }](t, rec).Tasks)

	rec = env.do(t, http.MethodGet, taskPath, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPatch, taskPath, alice, map[string]any{"title": "Renamed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPatch, taskPath, alice, map[string]any{"status": "in_progress"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusInProgress, decode[taskEnvelope](t, rec).Task.Status)

	rec = env.do(t, http.MethodPatch, taskPath, admin, map[string]any{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, taskPath, admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, taskPath, admin, `{"title":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, taskPath, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[models.TaskDetails](t, rec)
	assert.Equal(t, created.ID, details.Task.ID)
	require.Len(t, details.Activity, 2)
	assert.Equal(t, models.ActionCreated, details.Activity[0].Action)
	assert.Equal(t, models.ActionStatusChanged, details.Activity[1].Action)
	assert.Empty(t, details.Comments)
	assert.Empty(t, details.Children)

	rec = env.do(t, http.MethodDelete, taskPath, alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, taskPath, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, taskPath, admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchRejectsExtraKeysWholesale(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, "admin", models.RoleAdmin)
	alice := token(t, "alice", models.RoleUser)

	rec := env.do(t, http.MethodPost, "/api/tasks", admin, map[string]any{"title": "Audit", "assignedTo": []string{"alice"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	taskPath := "/api/tasks/" + decode[taskEnvelope](t, rec).Task.ID

	cases := map[string]struct {
		bearer string
		body   string
		want   int
	}{
		"unknown keys from assignee": {alice, `{"status":"completed","createdBy":"alice","parentTaskId":"x"}`, http.StatusBadRequest},
		"null title from assignee":   {alice, `{"status":"completed","title":null}`, http.StatusForbidden},
		"null tags from assignee":    {alice, `{"status":"completed","tags":null}`, http.StatusForbidden},
		"unknown key from admin":     {admin, `{"status":"completed","createdBy":"admin"}`, http.StatusBadRequest},
		"null title from admin":      {admin, `{"title":null}`, http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPatch, taskPath, tc.bearer, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}

	rec = env.do(t, http.MethodGet, taskPath, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[models.TaskDetails](t, rec)
	assert.Equal(t, models.StatusPending, details.Task.Status)
	assert.Equal(t, "Audit", details.Task.Title)
	assert.Equal(t, "admin", details.Task.CreatedBy)
	assert.Len(t, details.Activity, 1)
}

func TestRequestErrors(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, "admin", models.RoleAdmin)

	cases := map[string]struct {
		method, path string
		body         any
		want         int
	}{
		"malformed id":      {http.MethodGet, "/api/tasks/not-a-uuid", nil, http.StatusBadRequest},
		"unknown id":        {http.MethodGet, "/api/tasks/" + uuid.NewString(), nil, http.StatusNotFound},
		"bad limit":         {http.MethodGet, "/api/tasks?limit=abc", nil, http.StatusBadRequest},
		"bad status filter": {http.MethodGet, "/api/tasks?status=archived", nil, http.StatusBadRequest},
		"missing title":     {http.MethodPost, "/api/tasks", map[string]any{"title": "  "}, http.StatusBadRequest},
		"missing parent": {
			http.MethodPost, "/api/tasks", map[string]any{"title": "orphan", "parentTaskId": uuid.NewString()}, http.StatusNotFound,
		},
		"patch unknown":  {http.MethodPatch, "/api/tasks/" + uuid.NewString(), map[string]any{"status": "completed"}, http.StatusNotFound},
		"delete unknown": {http.MethodDelete, "/api/tasks/" + uuid.NewString(), nil, http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, tc.method, tc.path, admin, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestListQueryParameters(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, "admin", models.RoleAdmin)

	for _, body := range []map[string]any{
		{"title": "Bug in login", "tags": []string{"bug"}},
		{"title": "Docs", "tags": []string{"docs"}, "priority": "low"},
		{"title": "Refactor", "tags": []string{"tech-debt"}},
	} {
		rec := env.do(t, http.MethodPost, "/api/tasks", admin, body)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	titles := func(path string) []string {
		rec := env.do(t, http.MethodGet, path, admin, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []string
		for _, task := range decode[struct{ Tasks []models.Task }](t, rec).Tasks {
			out = append(out, task.Title)
		}
		return out
	}

	assert.Equal(t, []string{"Refactor", "Docs", "Bug in login"}, titles("/api/tasks"))
	assert.Equal(t, []string{"Docs", "Bug in login"}, titles("/api/tasks?tag=bug&tag=docs"))
	assert.Equal(t, []string{"Docs"}, titles("/api/tasks?priority=low"))
	assert.Equal(t, []string{"Bug in login"}, titles("/api/tasks?q=LOGIN"))
	assert.Equal(t, []string{"Docs"}, titles("/api/tasks?limit=1&offset=1"))
}

func TestNotificationsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, "admin", models.RoleAdmin)
	alice := token(t, "alice", models.RoleUser)
	bob := token(t, "bob", models.RoleUser)

	rec := env.do(t, http.MethodPost, "/api/tasks", admin, map[string]any{"title": "Review", "assignedTo": []string{"alice"}})
	require.Equal(t, http.StatusCreated, rec.Code)

	type listing struct {
		Notifications []models.Notification `json:"notifications"`
	}
	rec = env.do(t, http.MethodGet, "/api/notifications", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[listing](t, rec).Notifications
	require.Len(t, list, 1)
	assert.Equal(t, models.NotificationTaskAssigned, list[0].Type)
	assert.False(t, list[0].Read)

	rec = env.do(t, http.MethodPost, "/api/notifications/"+list[0].ID+"/read", bob, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/notifications/"+list[0].ID+"/read", alice, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/notifications", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[listing](t, rec).Notifications[0].Read)

	rec = env.do(t, http.MethodGet, "/api/notifications", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[listing](t, rec).Notifications)
}

func TestEventStreamDeliversAssignment(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Engine())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice", models.RoleUser))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan string, 8)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event:"); ok {
				events <- strings.TrimSpace(name)
			}
		}
	}()

	next := func() string {
		select {
		case name, ok := <-events:
			require.True(t, ok, "stream closed")
			return name
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return ""
		}
	}

	assert.Equal(t, "ready", next())
	assert.Eventually(t, func() bool { return env.hub.Connected("alice") }, time.Second, 10*time.Millisecond)

	body, err := json.Marshal(map[string]any{"title": "Live", "assignedTo": []string{"alice"}})
	require.NoError(t, err)
	create, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/api/tasks", bytes.NewReader(body))
	require.NoError(t, err)
	create.Header.Set("Content-Type", "application/json")
	create.Header.Set("Authorization", "Bearer "+token(t, "admin", models.RoleAdmin))
	createResp, err := http.DefaultClient.Do(create)
	require.NoError(t, err)
	createResp.Body.Close()
	require.Equal(t, http.StatusCreated, createResp.StatusCode)

	assert.Equal(t, models.NotificationTaskAssigned, next())
}

func TestEventStreamEndsWhenHubCloses(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Engine())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, "alice", models.RoleUser))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()

	require.Eventually(t, func() bool { return env.hub.Connected("alice") }, time.Second, 10*time.Millisecond)
	env.hub.CloseAll()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("event stream still open after hub closed")
	}
}
