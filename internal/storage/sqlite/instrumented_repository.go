package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/italolelis/resumable_downloader/internal/storage"
	"github.com/italolelis/resumable_downloader/internal/telemetry"
)

// InstrumentedKeyValueRepository wraps KeyValueRepository with telemetry.
type InstrumentedKeyValueRepository struct {
	repo      *KeyValueRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedKeyValueRepository creates a new instrumented key-value repository.
func NewInstrumentedKeyValueRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedKeyValueRepository {
	return &InstrumentedKeyValueRepository{
		repo:      NewKeyValueRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedKeyValueRepository) Put(key string, value []byte) error {
	return r.telemetry.InstrumentStoreOperation(context.Background(), "kv_put", func(ctx context.Context) error {
		return r.repo.Put(key, value)
	})
}

// Get reads a key with telemetry. A missing key is not counted as an error.
func (r *InstrumentedKeyValueRepository) Get(key string) ([]byte, error) {
	var (
		result []byte
		err    error
	)

	instrumentedErr := r.telemetry.InstrumentStoreOperation(context.Background(), "kv_get", func(ctx context.Context) error {
		result, err = r.repo.Get(key)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, err
}

func (r *InstrumentedKeyValueRepository) Delete(key string) error {
	return r.telemetry.InstrumentStoreOperation(context.Background(), "kv_delete", func(ctx context.Context) error {
		return r.repo.Delete(key)
	})
}

func (r *InstrumentedKeyValueRepository) List(prefix string) (map[string][]byte, error) {
	var result map[string][]byte

	err := r.telemetry.InstrumentStoreOperation(context.Background(), "kv_list", func(ctx context.Context) error {
		var err error

		result, err = r.repo.List(prefix)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// InstrumentedArtifactRepository wraps ArtifactRepository with telemetry.
type InstrumentedArtifactRepository struct {
	repo      *ArtifactRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedArtifactRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedArtifactRepository {
	return &InstrumentedArtifactRepository{
		repo:      NewArtifactRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedArtifactRepository) TrackArtifact(itemID, filePath string) error {
	return r.telemetry.InstrumentStoreOperation(context.Background(), "track_artifact", func(ctx context.Context) error {
		return r.repo.TrackArtifact(itemID, filePath)
	})
}

func (r *InstrumentedArtifactRepository) GetArtifacts() ([]storage.ArtifactRecord, error) {
	var result []storage.ArtifactRecord

	err := r.telemetry.InstrumentStoreOperation(context.Background(), "get_artifacts", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetArtifacts()

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedArtifactRepository) RemoveArtifact(itemID string) error {
	return r.telemetry.InstrumentStoreOperation(context.Background(), "remove_artifact", func(ctx context.Context) error {
		return r.repo.RemoveArtifact(itemID)
	})
}

var (
	_ storage.KeyValueRepository = (*KeyValueRepository)(nil)
	_ storage.KeyValueRepository = (*InstrumentedKeyValueRepository)(nil)
	_ storage.ArtifactRepository = (*ArtifactRepository)(nil)
	_ storage.ArtifactRepository = (*InstrumentedArtifactRepository)(nil)
)
