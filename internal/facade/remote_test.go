package facade

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/threadmark/internal/auth"
	"github.com/kalambet/threadmark/internal/domain"
	"github.com/kalambet/threadmark/internal/hub"
	"github.com/kalambet/threadmark/internal/hub/docstore"
	"github.com/kalambet/threadmark/internal/remote"
)

const hubSecret = "0123456789abcdef0123456789abcdef"

// remoteFacade returns a facade bound to a signed-in session against a
// real hub.
func remoteFacade(t *testing.T) (*Facade, *auth.Memory) {
	t.Helper()
	store, err := docstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	hubSessions := hub.NewSessions(store, hubSecret, time.Hour, time.Minute)
	_, err = hubSessions.AddUser(context.Background(), "ann@example.com", "Ann", "correct horse")
	require.NoError(t, err)
	srv := httptest.NewServer(hub.NewHandler(hub.Deps{Store: store, Sessions: hubSessions}))
	t.Cleanup(srv.Close)

	sessions := auth.NewMemory()
	client := remote.New(srv.URL, sessions)
	s, err := client.Login(context.Background(), "ann@example.com", "correct horse")
	require.NoError(t, err)
	sessions.SignIn(s)

	f := New(Options{Local: newMemEngine("sqlite"), Remote: NewRemoteEngine(client)})
	t.Cleanup(f.Bind(sessions))
	return f, sessions
}

func TestAnnotateLifecycle_Remote(t *testing.T) {
	f, _ := remoteFacade(t)
	ctx := context.Background()
	require.Equal(t, BackendRemote, f.ActiveBackend())

	require.NoError(t, f.SaveThreads(ctx, []domain.Thread{{ID: "t1", Title: "first"}}))
	th, err := f.AppendAnnotation(ctx, "t1", domain.AnnotationInput{Rating: domain.RatingGood, Notes: "ok", Tags: []string{"x"}})
	require.NoError(t, err)
	require.Len(t, th.Annotations, 1)
	assert.True(t, th.IsAnnotated)
	assert.Equal(t, "Ann", th.Annotations[0].CreatedBy)
	assert.Equal(t, "Ann", th.LastModifiedBy, "hub stamps the writer")
	assert.NotEqual(t, domain.AnonymousUID, th.LastModifiedByUID)

	th, err = f.DeleteAnnotation(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Empty(t, th.Annotations)
	assert.False(t, th.IsAnnotated)

	n, err := f.ImportThreads(ctx, []domain.Thread{{ID: "t2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.GetThreads(ctx), 2)
}

func TestRemote_SavePartialThenCreate(t *testing.T) {
	f, _ := remoteFacade(t)
	ctx := context.Background()

	created, err := f.SaveThread(ctx, domain.Thread{ID: "t1", Title: "v1"})
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	updated, err := f.SaveThread(ctx, domain.Thread{ID: "t1", Title: "v2"})
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Title)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt.Time), "createdAt survives an update")
}

func TestRemote_SaveClearsTitle(t *testing.T) {
	f, _ := remoteFacade(t)
	ctx := context.Background()

	_, err := f.SaveThread(ctx, domain.Thread{ID: "t1", Title: "first"})
	require.NoError(t, err)
	_, err = f.SaveThread(ctx, domain.Thread{ID: "t1"})
	require.NoError(t, err)

	got, ok := f.GetThread(ctx, "t1")
	require.True(t, ok)
	assert.Empty(t, got.Title)

	_, err = f.SaveThread(ctx, domain.Thread{ID: "t1", Title: "again"})
	require.NoError(t, err)
	got, err = f.WithThread(ctx, "t1", func(th *domain.Thread) error {
		th.Title = ""
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, got.Title)
}

func TestRemote_DeleteAndUpdateMissing(t *testing.T) {
	f, _ := remoteFacade(t)
	ctx := context.Background()

	ok, err := f.DeleteThread(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.UpdateThread(ctx, "missing", domain.Fields{"title": "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.AppendAnnotation(ctx, "missing", domain.AnnotationInput{Rating: domain.RatingBad})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemote_Replace(t *testing.T) {
	f, _ := remoteFacade(t)
	ctx := context.Background()
	require.NoError(t, f.SaveThreads(ctx, []domain.Thread{{ID: "old1"}, {ID: "keep"}}))

	require.NoError(t, f.ReplaceThreads(ctx, []domain.Thread{{ID: "keep", Title: "kept"}, {ID: "new"}}))

	ids := []string{}
	for _, th := range f.GetThreads(ctx) {
		ids = append(ids, th.ID)
	}
	assert.ElementsMatch(t, []string{"keep", "new"}, ids)
}

func TestRemote_SignOutFallsBackToLocal(t *testing.T) {
	f, sessions := remoteFacade(t)
	ctx := context.Background()
	_, err := f.SaveThread(ctx, domain.Thread{ID: "remote-only"})
	require.NoError(t, err)

	sessions.SignOut()
	assert.Equal(t, BackendLocal, f.ActiveBackend())
	_, ok := f.GetThread(ctx, "remote-only")
	assert.False(t, ok)
}

func TestRemoteEngine_NoSession(t *testing.T) {
	e := NewRemoteEngine(remote.New("http://127.0.0.1:1", auth.NewMemory()))
	_, err := e.Save(context.Background(), domain.Thread{ID: "t1"})
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
	_, err = e.Delete(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}
