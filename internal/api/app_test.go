package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/threadmark/internal/auth"
	"github.com/kalambet/threadmark/internal/diagnostics"
	"github.com/kalambet/threadmark/internal/domain"
	"github.com/kalambet/threadmark/internal/facade"
	"github.com/kalambet/threadmark/internal/settings"
	"github.com/kalambet/threadmark/internal/storage"
)

const testToken = "test-token-12345"

type testApp struct {
	handler  http.Handler
	facade   *facade.Facade
	sessions *auth.Memory
	writes   *sync.Mutex
}

func newTestFacade(t *testing.T) (*facade.Facade, *storage.Local, *auth.Memory) {
	t.Helper()
	local := storage.NewLocal(t.TempDir(), storage.LocalOptions{})
	t.Cleanup(func() { local.Close() })

	sessions := auth.NewMemory()
	f := facade.New(facade.Options{
		Local:    facade.NewLocalEngine(local, nil),
		Sessions: sessions,
		Settings: settings.NewManager(local),
	})
	return f, local, sessions
}

func setupAppHandler(t *testing.T, token string) testApp {
	t.Helper()
	f, local, sessions := newTestFacade(t)
	writes := &sync.Mutex{}
	handler := NewAppHandler(AppDeps{
		Facade:      f,
		Diagnostics: diagnostics.New(local, f, nil, nil),
		Sessions:    sessions,
		Token:       token,
		Writes:      writes,
	})
	return testApp{handler: handler, facade: f, sessions: sessions, writes: writes}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (a testApp) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealth_NoAuthRequired(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeBody[map[string]string](t, rr)
	if resp["status"] != "ok" || resp["backend"] != "local" || resp["storage"] != "sqlite" {
		t.Errorf("health = %v", resp)
	}
}

func TestThreads_NoAuth(t *testing.T) {
	app := setupAppHandler(t, testToken)

	for _, token := range []string{"", "wrong-token"} {
		rr := httptest.NewRecorder()
		app.handler.ServeHTTP(rr, authReq(http.MethodGet, "/threads", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want %d", token, rr.Code, http.StatusUnauthorized)
		}
		if rr.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("token %q: missing WWW-Authenticate challenge", token)
		}
	}
}

func TestBearerAuth_EmptyTokenRejectsAll(t *testing.T) {
	h := BearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, token := range []string{"", "anything"} {
		req := httptest.NewRequest(http.MethodGet, "/threads", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want %d", token, rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestThreads_CreateGetList(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := app.do(t, http.MethodPost, "/threads", `{"title":"Refund question","messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body = %s", rr.Code, rr.Body.String())
	}
	created := decodeBody[domain.Thread](t, rr)
	if created.ID == "" {
		t.Fatal("created thread has no id")
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Errorf("timestamps not stamped: %+v", created)
	}

	rr = app.do(t, http.MethodGet, "/threads/"+created.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	got := decodeBody[domain.Thread](t, rr)
	if got.Title != "Refund question" || len(got.Messages) != 1 {
		t.Errorf("got %+v", got)
	}

	rr = app.do(t, http.MethodGet, "/threads", "")
	list := decodeBody[[]domain.Thread](t, rr)
	if len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("list = %+v", list)
	}
}

func TestThreads_GetMissing(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := app.do(t, http.MethodGet, "/threads/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestThreads_ListFilterAndPaging(t *testing.T) {
	app := setupAppHandler(t, testToken)
	ctx := context.Background()
	if err := app.facade.SaveThreads(ctx, []domain.Thread{{ID: "a"}, {ID: "b"}, {ID: "c"}}); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	if _, err := app.facade.AppendAnnotation(ctx, "b", domain.AnnotationInput{Rating: domain.RatingGood}); err != nil {
		t.Fatalf("annotating: %v", err)
	}

	tests := []struct {
		url  string
		want []string
	}{
		{"/threads", []string{"a", "b", "c"}},
		{"/threads?annotated=true", []string{"b"}},
		{"/threads?annotated=false", []string{"a", "c"}},
		{"/threads?offset=1&limit=1", []string{"b"}},
		{"/threads?offset=10", []string{}},
	}
	for _, tt := range tests {
		rr := app.do(t, http.MethodGet, tt.url, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.url, rr.Code)
		}
		list := decodeBody[[]domain.Thread](t, rr)
		ids := make([]string, 0, len(list))
		for _, th := range list {
			ids = append(ids, th.ID)
		}
		if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
			t.Errorf("%s: ids = %v, want %v", tt.url, ids, tt.want)
		}
	}

	if rr := app.do(t, http.MethodGet, "/threads?annotated=maybe", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestThreads_PutUsesPathID(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := app.do(t, http.MethodPut, "/threads/t1", `{"title":"first"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody[domain.Thread](t, rr); got.ID != "t1" {
		t.Errorf("id = %q, want t1", got.ID)
	}

	rr = app.do(t, http.MethodPut, "/threads/t1", `{"id":"t2","title":"mismatch"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("mismatch status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestThreads_Patch(t *testing.T) {
	app := setupAppHandler(t, testToken)
	app.do(t, http.MethodPut, "/threads/t1", `{"title":"before"}`)

	rr := app.do(t, http.MethodPatch, "/threads/t1", `{"title":"after"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody[domain.Thread](t, rr); got.Title != "after" {
		t.Errorf("title = %q, want after", got.Title)
	}

	rr = app.do(t, http.MethodPatch, "/threads/missing", `{"title":"x"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr = app.do(t, http.MethodPatch, "/threads/t1", `not json`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestThreads_Delete(t *testing.T) {
	app := setupAppHandler(t, testToken)
	app.do(t, http.MethodPut, "/threads/t1", `{}`)

	if rr := app.do(t, http.MethodDelete, "/threads/t1", ""); rr.Code != http.StatusOK {
		t.Fatalf("first delete status = %d", rr.Code)
	}
	if rr := app.do(t, http.MethodDelete, "/threads/t1", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestAnnotations_AppendAndDelete(t *testing.T) {
	app := setupAppHandler(t, testToken)
	app.do(t, http.MethodPut, "/threads/t1", `{}`)

	rr := app.do(t, http.MethodPost, "/threads/t1/annotations", `{"rating":"good","notes":"clear answer","tags":["tone"]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("append status = %d; body = %s", rr.Code, rr.Body.String())
	}
	got := decodeBody[domain.Thread](t, rr)
	if !got.IsAnnotated || len(got.Annotations) != 1 {
		t.Fatalf("thread after append = %+v", got)
	}
	if got.Annotations[0].CreatedByUID != domain.AnonymousUID {
		t.Errorf("createdByUid = %q, want %q", got.Annotations[0].CreatedByUID, domain.AnonymousUID)
	}

	rr = app.do(t, http.MethodDelete, "/threads/t1/annotations/5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("out of range delete status = %d", rr.Code)
	}
	if got := decodeBody[domain.Thread](t, rr); len(got.Annotations) != 1 {
		t.Errorf("out of range delete changed annotations: %d", len(got.Annotations))
	}

	rr = app.do(t, http.MethodDelete, "/threads/t1/annotations/0", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if got := decodeBody[domain.Thread](t, rr); got.IsAnnotated || len(got.Annotations) != 0 {
		t.Errorf("thread after delete = %+v", got)
	}
}

func TestAnnotations_Errors(t *testing.T) {
	app := setupAppHandler(t, testToken)
	app.do(t, http.MethodPut, "/threads/t1", `{}`)

	tests := []struct {
		name   string
		method string
		url    string
		body   string
		want   int
	}{
		{"bad rating", http.MethodPost, "/threads/t1/annotations", `{"rating":"meh"}`, http.StatusBadRequest},
		{"missing thread", http.MethodPost, "/threads/nope/annotations", `{"rating":"bad"}`, http.StatusNotFound},
		{"bad index", http.MethodDelete, "/threads/t1/annotations/first", "", http.StatusBadRequest},
		{"delete on missing thread", http.MethodDelete, "/threads/nope/annotations/0", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.do(t, tt.method, tt.url, tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestImport_AssignsFreshIDs(t *testing.T) {
	app := setupAppHandler(t, testToken)
	app.do(t, http.MethodPut, "/threads/dup", `{"title":"existing"}`)

	rr := app.do(t, http.MethodPost, "/import", `[{"id":"dup","title":"imported"},{"title":"no id"}]`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if resp := decodeBody[map[string]int](t, rr); resp["imported"] != 2 {
		t.Errorf("imported = %d, want 2", resp["imported"])
	}

	threads := app.facade.GetThreads(context.Background())
	if len(threads) != 3 {
		t.Fatalf("got %d threads, want 3", len(threads))
	}
	existing, ok := app.facade.GetThread(context.Background(), "dup")
	if !ok || existing.Title != "existing" {
		t.Errorf("import overwrote existing thread: %+v", existing)
	}

	rr = app.do(t, http.MethodPost, "/import", `{"threads":[{"title":"wrapped"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("object form status = %d; body = %s", rr.Code, rr.Body.String())
	}
}

func TestImport_Rejects(t *testing.T) {
	app := setupAppHandler(t, testToken)

	for _, body := range []string{`[]`, `{"threads":[]}`, `not json`} {
		if rr := app.do(t, http.MethodPost, "/import", body); rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want %d", body, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestExport_CSV(t *testing.T) {
	app := setupAppHandler(t, testToken)
	app.do(t, http.MethodPut, "/threads/t1", `{"title":"Refunds"}`)
	app.do(t, http.MethodPost, "/threads/t1/annotations", `{"rating":"bad","notes":"wrong policy"}`)

	rr := app.do(t, http.MethodGet, "/export/annotations.csv", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("content disposition = %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header plus 1 row: %q", len(lines), rr.Body.String())
	}
	if !strings.HasPrefix(lines[1], `t1,"Refunds",0,bad,"wrong policy"`) {
		t.Errorf("row = %q", lines[1])
	}
}

func TestExport_XLSX(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := app.do(t, http.MethodGet, "/export/annotations.xlsx", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("content type = %q", ct)
	}
	if !strings.HasPrefix(rr.Body.String(), "PK") {
		t.Error("body is not a zip archive")
	}
}

func TestBackup_RoundTrip(t *testing.T) {
	src := setupAppHandler(t, testToken)
	src.do(t, http.MethodPut, "/threads/t1", `{"title":"kept"}`)
	src.do(t, http.MethodPut, "/settings", `{"theme":"dark"}`)

	rr := src.do(t, http.MethodGet, "/backup", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export status = %d", rr.Code)
	}
	doc := rr.Body.String()

	dst := setupAppHandler(t, testToken)
	dst.do(t, http.MethodPut, "/threads/stale", `{}`)

	rr = dst.do(t, http.MethodPost, "/backup?mode=replace", doc)
	if rr.Code != http.StatusOK {
		t.Fatalf("restore status = %d; body = %s", rr.Code, rr.Body.String())
	}

	threads := dst.facade.GetThreads(context.Background())
	if len(threads) != 1 || threads[0].ID != "t1" {
		t.Errorf("threads after replace = %+v", threads)
	}
	if got := dst.facade.GetSettings(context.Background())["theme"]; got != "dark" {
		t.Errorf("theme = %v, want dark", got)
	}
}

func TestBackup_RestoreRejects(t *testing.T) {
	app := setupAppHandler(t, testToken)

	tests := []struct {
		name string
		url  string
		body string
	}{
		{"bad mode", "/backup?mode=overwrite", `{"threads":[],"version":"1.0"}`},
		{"missing threads", "/backup", `{"version":"1.0"}`},
		{"bad version", "/backup", `{"threads":[],"version":"2.0"}`},
		{"thread without id", "/backup", `{"threads":[{"title":"x"}],"version":"1.0"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.do(t, http.MethodPost, tt.url, tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, http.StatusBadRequest, rr.Body.String())
			}
		})
	}
}

func TestSettings_PutAndPatch(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := app.do(t, http.MethodPut, "/settings", `{"theme":"dark","pageSize":25}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = app.do(t, http.MethodPatch, "/settings", `{"theme":"light"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status = %d", rr.Code)
	}

	got := decodeBody[map[string]any](t, app.do(t, http.MethodGet, "/settings", ""))
	if got["theme"] != "light" || got["pageSize"] != float64(25) {
		t.Errorf("settings = %v", got)
	}
	if _, ok := got["id"]; ok {
		t.Error("settings leaked the document id")
	}
}

func TestDiagnostics_Endpoints(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := app.do(t, http.MethodGet, "/diagnostics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	report := decodeBody[diagnostics.Report](t, rr)
	if !report.OK || len(report.Steps) != 7 {
		t.Errorf("report = %+v", report)
	}

	rr = app.do(t, http.MethodGet, "/diagnostics/dump", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("dump status = %d", rr.Code)
	}
	dump := decodeBody[diagnostics.DumpReport](t, rr)
	if dump.StorageType != "sqlite" {
		t.Errorf("dump storage = %q", dump.StorageType)
	}

	for _, path := range []string{"/maintenance/repair", "/maintenance/run"} {
		if rr := app.do(t, http.MethodPost, path, ""); rr.Code != http.StatusOK {
			t.Errorf("%s status = %d; body = %s", path, rr.Code, rr.Body.String())
		}
	}
}

func TestDiagnostics_NotConfigured(t *testing.T) {
	f, _, _ := newTestFacade(t)
	h := NewAppHandler(AppDeps{Facade: f, Token: testToken})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/diagnostics", "", testToken))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestSync_WithoutHub(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := app.do(t, http.MethodPost, "/sync", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestSession(t *testing.T) {
	app := setupAppHandler(t, testToken)

	got := decodeBody[map[string]any](t, app.do(t, http.MethodGet, "/session", ""))
	if got["signedIn"] != false {
		t.Errorf("signedIn = %v, want false", got["signedIn"])
	}

	app.sessions.SignIn(auth.Session{
		Token:  "tok",
		User:   domain.Identity{UID: "u1", Email: "ana@example.com"},
		HubURL: "https://hub.example.com",
	})
	got = decodeBody[map[string]any](t, app.do(t, http.MethodGet, "/session", ""))
	if got["signedIn"] != true || got["hubUrl"] != "https://hub.example.com" {
		t.Errorf("session = %v", got)
	}
	user, _ := got["user"].(map[string]any)
	if user["uid"] != "u1" {
		t.Errorf("user = %v", got["user"])
	}
}

func TestWrites_AreSerialized(t *testing.T) {
	app := setupAppHandler(t, testToken)
	app.writes.Lock()

	done := make(chan int, 1)
	go func() {
		rr := httptest.NewRecorder()
		app.handler.ServeHTTP(rr, authReq(http.MethodPut, "/threads/t1", `{}`, testToken))
		done <- rr.Code
	}()

	select {
	case <-done:
		t.Fatal("write completed while the write lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	if rr := app.do(t, http.MethodGet, "/threads", ""); rr.Code != http.StatusOK {
		t.Fatalf("read blocked or failed while writes were held: %d", rr.Code)
	}

	app.writes.Unlock()
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Fatalf("write status = %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write did not complete after the lock was released")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrInvalidRecord, http.StatusBadRequest},
		{domain.ErrAuthRequired, http.StatusUnauthorized},
		{domain.ErrUnavailable, http.StatusServiceUnavailable},
		{domain.ErrTransientIO, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
