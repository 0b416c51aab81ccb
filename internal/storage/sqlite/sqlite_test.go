package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/italolelis/resumable_downloader/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "downloads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestKeyValueRepository_RoundTrip(t *testing.T) {
	repo := NewKeyValueRepository(openTestDB(t))

	require.NoError(t, repo.Put(storage.CheckpointKey("f1"), []byte{0x01, 0x02}))

	got, err := repo.Get(storage.CheckpointKey("f1"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, got)

	require.NoError(t, repo.Put(storage.CheckpointKey("f1"), []byte{0x03}))

	got, err = repo.Get(storage.CheckpointKey("f1"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, got, "put overwrites")

	require.NoError(t, repo.Delete(storage.CheckpointKey("f1")))

	_, err = repo.Get(storage.CheckpointKey("f1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.NoError(t, repo.Delete(storage.CheckpointKey("f1")), "deleting an absent key is fine")
}

func TestKeyValueRepository_EmptyValue(t *testing.T) {
	repo := NewKeyValueRepository(openTestDB(t))

	require.NoError(t, repo.Put("checkpoint:empty", nil))

	got, err := repo.Get("checkpoint:empty")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestKeyValueRepository_ListByNamespace(t *testing.T) {
	repo := NewKeyValueRepository(openTestDB(t))

	require.NoError(t, repo.Put(storage.ItemKey("a"), []byte("https://x/a")))
	require.NoError(t, repo.Put(storage.ItemKey("b"), []byte("https://x/b")))
	require.NoError(t, repo.Put(storage.IntentKey("a"), []byte("1")))
	require.NoError(t, repo.Put("item_like:c", []byte("nope")))

	items, err := repo.List(storage.ItemPrefix)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"item:a": []byte("https://x/a"),
		"item:b": []byte("https://x/b"),
	}, items)
}

func TestKeyValueRepository_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "downloads.db")

	db, err := InitDB(path)
	require.NoError(t, err)
	require.NoError(t, NewKeyValueRepository(db).Put(storage.IntentKey("f2"), []byte("1")))
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := NewKeyValueRepository(db).Get(storage.IntentKey("f2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
}

func TestArtifactRepository(t *testing.T) {
	repo := NewArtifactRepository(openTestDB(t))

	require.NoError(t, repo.TrackArtifact("f1", "/out/a.bin"))
	require.NoError(t, repo.TrackArtifact("f2", "/out/b.bin"))
	require.NoError(t, repo.TrackArtifact("f1", "/out/a2.bin"))

	records, err := repo.GetArtifacts()
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]storage.ArtifactRecord{}
	for _, r := range records {
		byID[r.ItemID] = r
	}

	assert.Equal(t, "/out/a2.bin", byID["f1"].FilePath)

	_, err = time.Parse(time.RFC3339, byID["f1"].CompletedAt)
	assert.NoError(t, err)

	require.NoError(t, repo.RemoveArtifact("f1"))

	records, err = repo.GetArtifacts()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "f2", records[0].ItemID)
}

func TestInstrumentedRepositories_NilTelemetry(t *testing.T) {
	db := openTestDB(t)

	var tel *telemetry.Telemetry

	kv := NewInstrumentedKeyValueRepository(db, tel)
	require.NoError(t, kv.Put("intent:x", []byte("1")))

	got, err := kv.Get("intent:x")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	_, err = kv.Get("intent:missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	artifacts := NewInstrumentedArtifactRepository(db, tel)
	require.NoError(t, artifacts.TrackArtifact("x", "/out/x"))

	records, err := artifacts.GetArtifacts()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
