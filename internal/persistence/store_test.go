package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/italolelis/resumable_downloader/internal/storage/sqlite"
	"github.com/italolelis/resumable_downloader/internal/transfer"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStore(sqlite.NewKeyValueRepository(db), sqlite.NewArtifactRepository(db))
}

func testContext() context.Context {
	return logctx.WithLogger(context.Background(), logctx.Discard())
}

func TestStore_CheckpointRoundTrip(t *testing.T) {
	ctx := testContext()
	s := newTestStore(t)

	_, ok := s.GetCheckpoint(ctx, "f1")
	assert.False(t, ok)

	s.SaveCheckpoint(ctx, "f1", []byte{0x01, 0x02})

	got, ok := s.GetCheckpoint(ctx, "f1")
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02}, got)

	s.SaveCheckpoint(ctx, "f1", []byte{0x03})
	got, _ = s.GetCheckpoint(ctx, "f1")
	assert.Equal(t, []byte{0x03}, got)

	s.ClearCheckpoint(ctx, "f1")
	_, ok = s.GetCheckpoint(ctx, "f1")
	assert.False(t, ok)

	s.ClearCheckpoint(ctx, "f1")
}

func TestStore_Intent(t *testing.T) {
	ctx := testContext()
	s := newTestStore(t)

	assert.False(t, s.GetIntent(ctx, "f1"), "defaults to false")

	s.SetIntent(ctx, "f1", true)
	s.SetIntent(ctx, "f1", true)
	assert.True(t, s.GetIntent(ctx, "f1"))

	s.SetIntent(ctx, "f1", false)
	assert.False(t, s.GetIntent(ctx, "f1"))
}

func TestStore_Items(t *testing.T) {
	ctx := testContext()
	s := newTestStore(t)

	s.RememberItem(ctx, transfer.Item{ID: "a", URL: "https://example.com/a.bin"})
	s.RememberItem(ctx, transfer.Item{ID: "b", URL: "https://example.com/b.bin"})
	s.SaveCheckpoint(ctx, "a", []byte{1})

	assert.ElementsMatch(t, []transfer.Item{
		{ID: "a", URL: "https://example.com/a.bin"},
		{ID: "b", URL: "https://example.com/b.bin"},
	}, s.Items(ctx))

	s.ForgetItem(ctx, "a")
	assert.Equal(t, []transfer.Item{{ID: "b", URL: "https://example.com/b.bin"}}, s.Items(ctx))
}

func TestStore_Artifacts(t *testing.T) {
	ctx := testContext()
	s := newTestStore(t)

	s.TrackArtifact(ctx, "a", "/out/a.bin")

	records := s.Artifacts(ctx)
	require.Len(t, records, 1)
	assert.Equal(t, "/out/a.bin", records[0].FilePath)

	s.ForgetArtifact(ctx, "a")
	assert.Empty(t, s.Artifacts(ctx))
}

type failingKV struct{}

var errDiskFull = errors.New("disk full")

func (failingKV) Get(string) ([]byte, error)                      { return nil, errDiskFull }
func (failingKV) List(string) (map[string][]byte, error)          { return nil, errDiskFull }
func (failingKV) Put(string, []byte) error                        { return errDiskFull }
func (failingKV) Delete(string) error                             { return errDiskFull }
func (failingKV) TrackArtifact(string, string) error              { return errDiskFull }
func (failingKV) GetArtifacts() ([]storage.ArtifactRecord, error) { return nil, errDiskFull }
func (failingKV) RemoveArtifact(string) error                     { return errDiskFull }

func TestStore_FailuresAreSwallowed(t *testing.T) {
	ctx := testContext()
	s := NewStore(failingKV{}, failingKV{})

	assert.NotPanics(t, func() {
		s.SetIntent(ctx, "f1", true)
		s.SaveCheckpoint(ctx, "f1", []byte{1})
		s.ClearCheckpoint(ctx, "f1")
		s.RememberItem(ctx, transfer.Item{ID: "f1", URL: "https://example.com/f1"})
		s.TrackArtifact(ctx, "f1", "/out/f1")
	})

	assert.False(t, s.GetIntent(ctx, "f1"))

	_, ok := s.GetCheckpoint(ctx, "f1")
	assert.False(t, ok)
	assert.Empty(t, s.Items(ctx))
	assert.Empty(t, s.Artifacts(ctx))
}
