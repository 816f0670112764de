package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/threadmark/internal/domain"
	"github.com/kalambet/threadmark/internal/hub/docstore"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Close() {}

type testHub struct {
	handler   http.Handler
	store     *docstore.SQLite
	sessions  *Sessions
	publisher *recordingPublisher
	now       time.Time
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	store, err := docstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &testHub{
		store:     store,
		publisher: &recordingPublisher{},
		now:       time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	h.sessions = NewSessions(store, testSecret, time.Hour, time.Minute)
	h.sessions.now = clock
	h.handler = NewHandler(Deps{
		Store:     store,
		Sessions:  h.sessions,
		Publisher: h.publisher,
		Metrics:   NewMetrics(),
		Now:       clock,
	})
	return h
}

func (h *testHub) login(t *testing.T, email, name string) string {
	t.Helper()
	_, err := h.sessions.AddUser(context.Background(), email, name, "correct horse")
	require.NoError(t, err)

	rec := h.do(t, http.MethodPost, "/v1/sessions", "", loginRequest{Email: email, Password: "correct horse"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (h *testHub) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeThread(t *testing.T, rec *httptest.ResponseRecorder) domain.Thread {
	t.Helper()
	var th domain.Thread
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&th))
	return th
}

func TestLogin_RejectsBadPassword(t *testing.T) {
	h := newTestHub(t)
	_, err := h.sessions.AddUser(context.Background(), "ann@example.com", "Ann", "correct horse")
	require.NoError(t, err)

	rec := h.do(t, http.MethodPost, "/v1/sessions", "", loginRequest{Email: "ann@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/v1/sessions", "", loginRequest{Email: "nobody@example.com", Password: "correct horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestThreads_RequireSession(t *testing.T) {
	h := newTestHub(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/threads"},
		{http.MethodGet, "/v1/threads/t1"},
		{http.MethodPut, "/v1/threads/t1"},
		{http.MethodPatch, "/v1/threads/t1"},
		{http.MethodDelete, "/v1/threads/t1"},
	} {
		rec := h.do(t, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}

	rec := h.do(t, http.MethodGet, "/v1/threads", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPut_StampsServerTimeAndIdentity(t *testing.T) {
	h := newTestHub(t)
	token := h.login(t, "ann@example.com", "Ann")

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := h.do(t, http.MethodPut, "/v1/threads/t1", token, domain.Thread{
		Title:     "first",
		CreatedAt: domain.At(created),
		UpdatedAt: domain.At(created),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	th := decodeThread(t, rec)
	assert.Equal(t, "t1", th.ID)
	assert.True(t, th.CreatedAt.Equal(created), "caller createdAt preserved")
	assert.True(t, th.UpdatedAt.Equal(h.now), "server stamps updatedAt")
	assert.Equal(t, "Ann", th.LastModifiedBy)
	assert.NotEmpty(t, th.LastModifiedByUID)

	rec = h.do(t, http.MethodPut, "/v1/threads/t2", token, domain.Thread{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeThread(t, rec).CreatedAt.Equal(h.now), "createdAt assigned when absent")

	rec = h.do(t, http.MethodPut, "/v1/threads/t3", token, domain.Thread{ID: "other"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{SubjectThreadCreated, SubjectThreadCreated}, h.publisher.subjects)
}

func TestList_MostRecentlyUpdatedFirst(t *testing.T) {
	h := newTestHub(t)
	token := h.login(t, "ann@example.com", "Ann")

	h.do(t, http.MethodPut, "/v1/threads/old", token, domain.Thread{})
	h.now = h.now.Add(time.Minute)
	h.do(t, http.MethodPut, "/v1/threads/new", token, domain.Thread{})

	rec := h.do(t, http.MethodGet, "/v1/threads", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Threads []domain.Thread `json:"threads"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Threads, 2)
	assert.Equal(t, "new", body.Threads[0].ID)
	assert.Equal(t, "old", body.Threads[1].ID)
}

func TestPatch_MergesAndRestamps(t *testing.T) {
	h := newTestHub(t)
	ann := h.login(t, "ann@example.com", "Ann")
	bob := h.login(t, "bob@example.com", "Bob")

	h.do(t, http.MethodPut, "/v1/threads/t1", ann, domain.Thread{
		Title:    "before",
		Messages: []domain.Message{{ID: "m1", Role: domain.RoleUser, Content: "hi"}},
	})
	h.now = h.now.Add(time.Hour)

	rec := h.do(t, http.MethodPatch, "/v1/threads/t1", bob, map[string]any{
		"title":       "after",
		"annotations": []any{map[string]any{"rating": "good", "tags": []string{"x"}}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	th := decodeThread(t, rec)
	assert.Equal(t, "after", th.Title)
	assert.Len(t, th.Messages, 1)
	assert.True(t, th.IsAnnotated)
	assert.Equal(t, "Bob", th.LastModifiedBy, "shared workspace: any user may write")
	assert.True(t, th.UpdatedAt.Equal(h.now))

	rec = h.do(t, http.MethodPatch, "/v1/threads/missing", bob, map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPatch, "/v1/threads/t1", bob, map[string]any{"messages": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDelete(t *testing.T) {
	h := newTestHub(t)
	token := h.login(t, "ann@example.com", "Ann")

	h.do(t, http.MethodPut, "/v1/threads/t1", token, domain.Thread{})

	rec := h.do(t, http.MethodDelete, "/v1/threads/t1", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodDelete, "/v1/threads/t1", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/threads/t1", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestHub(t)

	rec := h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.do(t, http.MethodGet, "/v1/threads", "", nil)

	rec = h.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "threadmark_hub_requests_total"))
}

func TestVerify_ExpiredToken(t *testing.T) {
	h := newTestHub(t)
	token := h.login(t, "ann@example.com", "Ann")

	h.now = h.now.Add(2 * time.Hour)
	_, err := h.sessions.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestAddUser_Validation(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	_, err := h.sessions.AddUser(ctx, "not-an-email", "", "long enough")
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)

	_, err = h.sessions.AddUser(ctx, "ann@example.com", "", "short")
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)

	_, err = h.sessions.AddUser(ctx, "ann@example.com", "", "long enough")
	require.NoError(t, err)
	_, err = h.sessions.AddUser(ctx, "ANN@example.com", "", "long enough")
	assert.ErrorIs(t, err, docstore.ErrUserExists)
}
