package backup

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/threadmark/internal/domain"
	"github.com/kalambet/threadmark/internal/facade"
	"github.com/kalambet/threadmark/internal/settings"
	"github.com/kalambet/threadmark/internal/storage"
)

func newFacade(t *testing.T) *facade.Facade {
	t.Helper()
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return facade.New(facade.Options{
		Local:    facade.NewLocalEngine(db, nil),
		Settings: settings.NewManager(db),
	})
}

func ids(threads []domain.Thread) []string {
	out := make([]string, 0, len(threads))
	for _, t := range threads {
		out = append(out, t.ID)
	}
	return out
}

func TestExportDecodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newFacade(t)
	require.NoError(t, src.SaveThreads(ctx, []domain.Thread{{ID: "a", Title: "Alpha"}, {ID: "b"}}))
	_, err := src.AppendAnnotation(ctx, "a", domain.AnnotationInput{Rating: domain.RatingGood, Notes: "n"})
	require.NoError(t, err)
	require.NoError(t, src.SaveSettings(ctx, domain.Settings{"theme": "dark"}))

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Export(ctx, src, now)))
	assert.Contains(t, buf.String(), `"version": "1.0"`)
	assert.Contains(t, buf.String(), `"storageType": "sqlite"`)

	f, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(f.Threads))
	assert.True(t, f.Threads[0].IsAnnotated)
	assert.Equal(t, "dark", f.Settings["theme"])
	assert.True(t, now.Equal(f.ExportedAt))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
		check   func(t *testing.T, f File)
	}{
		{
			name: "backupTime alias",
			doc:  `{"threads":[{"id":"t1","annotations":{"rating":"bad"}}],"backupTime":"2024-01-02T03:04:05Z","version":"1.0"}`,
			check: func(t *testing.T, f File) {
				assert.Equal(t, 2024, f.ExportedAt.Year())
				require.Len(t, f.Threads[0].Annotations, 1, "legacy single annotation normalized")
				assert.True(t, f.Threads[0].IsAnnotated)
				assert.Nil(t, f.Settings)
			},
		},
		{name: "missing threads", doc: `{"version":"1.0"}`, wantErr: true},
		{name: "wrong version", doc: `{"threads":[],"version":"2.0"}`, wantErr: true},
		{name: "thread without id", doc: `{"threads":[{"title":"x"}],"version":"1.0"}`, wantErr: true},
		{name: "not json", doc: `threads`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(strings.NewReader(tt.doc))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidRecord)
				return
			}
			require.NoError(t, err)
			tt.check(t, f)
		})
	}
}

func TestImport_Replace(t *testing.T) {
	ctx := context.Background()
	dst := newFacade(t)
	require.NoError(t, dst.SaveThreads(ctx, []domain.Thread{{ID: "old"}, {ID: "shared", Title: "mine"}}))
	require.NoError(t, dst.SaveSettings(ctx, domain.Settings{"theme": "dark", "extra": true}))

	f := File{
		Threads:  []domain.Thread{{ID: "shared", Title: "theirs"}, {ID: "new"}},
		Settings: domain.Settings{"theme": "light"},
		Version:  Version,
	}
	res, err := Import(ctx, dst, f, ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Threads)
	assert.True(t, res.Settings)

	got := dst.GetThreads(ctx)
	assert.Equal(t, []string{"shared", "new"}, ids(got))
	assert.Equal(t, "theirs", got[0].Title)
	assert.Equal(t, domain.Settings{"theme": "light"}, dst.GetSettings(ctx))
}

func TestImport_Merge(t *testing.T) {
	ctx := context.Background()
	dst := newFacade(t)
	require.NoError(t, dst.SaveThreads(ctx, []domain.Thread{{ID: "old"}, {ID: "shared", Title: "mine"}}))
	require.NoError(t, dst.SaveSettings(ctx, domain.Settings{"theme": "dark", "extra": true}))

	f := File{
		Threads:  []domain.Thread{{ID: "shared", Title: "theirs"}, {ID: "new"}},
		Settings: domain.Settings{"theme": "light"},
		Version:  Version,
	}
	_, err := Import(ctx, dst, f, ModeMerge)
	require.NoError(t, err)

	got := dst.GetThreads(ctx)
	assert.Equal(t, []string{"old", "shared", "new"}, ids(got))
	assert.Equal(t, "theirs", got[1].Title)
	assert.Equal(t, domain.Settings{"theme": "light", "extra": true}, dst.GetSettings(ctx))
}

func TestImport_NoSettingsLeavesThemAlone(t *testing.T) {
	ctx := context.Background()
	dst := newFacade(t)
	require.NoError(t, dst.SaveSettings(ctx, domain.Settings{"theme": "dark"}))

	res, err := Import(ctx, dst, File{Threads: []domain.Thread{{ID: "a"}}, Version: Version}, ModeReplace)
	require.NoError(t, err)
	assert.False(t, res.Settings)
	assert.Equal(t, "dark", dst.GetSettings(ctx)["theme"])
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeMerge, m)
	m, err = ParseMode("replace")
	require.NoError(t, err)
	assert.Equal(t, ModeReplace, m)
	_, err = ParseMode("append")
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
}
