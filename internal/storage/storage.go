package storage

import "errors"

// ErrNotFound is returned by repositories when a key or record does not exist.
var ErrNotFound = errors.New("storage: not found")

// Key namespaces of the durable key-value store.
const (
	IntentPrefix     = "intent:"
	CheckpointPrefix = "checkpoint:"
	ItemPrefix       = "item:"
)

func IntentKey(id string) string     { return IntentPrefix + id }
func CheckpointKey(id string) string { return CheckpointPrefix + id }
func ItemKey(id string) string       { return ItemPrefix + id }

// ArtifactRecord represents a completed file in the output directory.
type ArtifactRecord struct {
	ItemID      string
	FilePath    string
	CompletedAt string
}

type KeyValueReadRepository interface {
	Get(key string) ([]byte, error)
	// List returns every key with the given prefix, prefix included.
	List(prefix string) (map[string][]byte, error)
}

type KeyValueWriteRepository interface {
	Put(key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}

type KeyValueRepository interface {
	KeyValueReadRepository
	KeyValueWriteRepository
}

type ArtifactRepository interface {
	TrackArtifact(itemID, filePath string) error
	GetArtifacts() ([]ArtifactRecord, error)
	RemoveArtifact(itemID string) error
}
