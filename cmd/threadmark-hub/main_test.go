package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/threadmark/internal/hub"
)

func sqliteConfig(t *testing.T) hub.Config {
	t.Helper()
	return hub.Config{
		Store:      "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "hub.db"),
		JWTSecret:  strings.Repeat("s", 32),
		TokenTTL:   time.Hour,
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	ctx := context.Background()
	store, err := openStore(ctx, sqliteConfig(t))
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Ping(ctx))
}

func TestOpenStore_Unsupported(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Store = "redis"
	_, err := openStore(context.Background(), cfg)
	assert.ErrorContains(t, err, "unsupported store")
}

func TestNewPublisher_NopWithoutNATS(t *testing.T) {
	pub, err := newPublisher(context.Background(), sqliteConfig(t), newLogger("error"))
	require.NoError(t, err)
	assert.IsType(t, hub.NopPublisher{}, pub)
}

func TestAddedUserCanLogIn(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)
	store, err := openStore(ctx, cfg)
	require.NoError(t, err)
	defer store.Close()

	sessions := hub.NewSessions(store, cfg.JWTSecret, cfg.TokenTTL, time.Minute)
	_, err = sessions.AddUser(ctx, "ana@example.com", "Ana", "correct-horse")
	require.NoError(t, err)

	srv := httptest.NewServer(hub.NewHandler(hub.Deps{Store: store, Sessions: sessions, Logger: newLogger("error")}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/sessions", "application/json",
		strings.NewReader(`{"email":"ana@example.com","password":"correct-horse"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadPassword_FromPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	_, err = w.WriteString("s3cret-pass\r\nignored\n")
	require.NoError(t, err)
	w.Close()

	got, err := readPassword(r, os.Stderr)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-pass", got)
}

func TestReadPassword_Empty(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	w.Close()

	_, err = readPassword(r, os.Stderr)
	assert.Error(t, err)
}
