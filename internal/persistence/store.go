// Package persistence keeps the durable side of a transfer: the user's intent, the
// transport checkpoint, the source URL and the completed artifact.
//
// Every operation is best effort. Failures are logged and swallowed: a lost checkpoint
// only costs a fresh restart.
package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/italolelis/resumable_downloader/internal/transfer"
)

var intentTrue = []byte("1")

// Store is safe for concurrent use; each key is independent.
type Store struct {
	kv        storage.KeyValueRepository
	artifacts storage.ArtifactRepository
}

func NewStore(kv storage.KeyValueRepository, artifacts storage.ArtifactRepository) *Store {
	return &Store{kv: kv, artifacts: artifacts}
}

// SetIntent records whether the user wants id downloading. Clearing deletes the key.
func (s *Store) SetIntent(ctx context.Context, id string, wants bool) {
	var err error
	if wants {
		err = s.kv.Put(storage.IntentKey(id), intentTrue)
	} else {
		err = s.kv.Delete(storage.IntentKey(id))
	}

	s.logFailure(ctx, err, "failed to persist intent", id)
}

// GetIntent defaults to false when nothing was recorded or the read fails.
func (s *Store) GetIntent(ctx context.Context, id string) bool {
	v, err := s.kv.Get(storage.IntentKey(id))
	if err != nil {
		s.logFailure(ctx, err, "failed to read intent", id)

		return false
	}

	return string(v) == string(intentTrue)
}

// SaveCheckpoint overwrites any checkpoint stored for id.
func (s *Store) SaveCheckpoint(ctx context.Context, id string, checkpoint []byte) {
	err := s.kv.Put(storage.CheckpointKey(id), checkpoint)

	s.logFailure(ctx, err, "failed to persist checkpoint", id)
}

// GetCheckpoint reports false when no checkpoint is stored or the read fails.
func (s *Store) GetCheckpoint(ctx context.Context, id string) ([]byte, bool) {
	v, err := s.kv.Get(storage.CheckpointKey(id))
	if err != nil {
		s.logFailure(ctx, err, "failed to read checkpoint", id)

		return nil, false
	}

	if v == nil {
		v = []byte{}
	}

	return v, true
}

// ClearCheckpoint is a no-op when nothing is stored.
func (s *Store) ClearCheckpoint(ctx context.Context, id string) {
	s.logFailure(ctx, s.kv.Delete(storage.CheckpointKey(id)), "failed to clear checkpoint", id)
}

// RememberItem keeps the source URL of id so it can be resumed after a restart.
func (s *Store) RememberItem(ctx context.Context, item transfer.Item) {
	s.logFailure(ctx, s.kv.Put(storage.ItemKey(item.ID), []byte(item.URL)), "failed to persist item", item.ID)
}

func (s *Store) ForgetItem(ctx context.Context, id string) {
	s.logFailure(ctx, s.kv.Delete(storage.ItemKey(id)), "failed to forget item", id)
}

// Items returns every remembered item.
func (s *Store) Items(ctx context.Context) []transfer.Item {
	rows, err := s.kv.List(storage.ItemPrefix)
	if err != nil {
		s.logFailure(ctx, err, "failed to list items", "")

		return nil
	}

	items := make([]transfer.Item, 0, len(rows))
	for key, url := range rows {
		items = append(items, transfer.Item{ID: strings.TrimPrefix(key, storage.ItemPrefix), URL: string(url)})
	}

	return items
}

// TrackArtifact records a completed file for retention cleanup.
func (s *Store) TrackArtifact(ctx context.Context, id, path string) {
	s.logFailure(ctx, s.artifacts.TrackArtifact(id, path), "failed to track artifact", id)
}

func (s *Store) ForgetArtifact(ctx context.Context, id string) {
	s.logFailure(ctx, s.artifacts.RemoveArtifact(id), "failed to forget artifact", id)
}

// Artifacts lists completed files. A failed read yields none.
func (s *Store) Artifacts(ctx context.Context) []storage.ArtifactRecord {
	records, err := s.artifacts.GetArtifacts()
	if err != nil {
		s.logFailure(ctx, err, "failed to list artifacts", "")

		return nil
	}

	return records
}

func (s *Store) logFailure(ctx context.Context, err error, msg, id string) {
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return
	}

	logctx.LoggerFromContext(ctx).ErrorContext(ctx, msg, "item_id", id, "err", err)
}
