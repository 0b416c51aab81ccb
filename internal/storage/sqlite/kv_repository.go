package sqlite

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/italolelis/resumable_downloader/internal/storage"
)

// KeyValueRepository implements storage.KeyValueRepository on the kv table.
type KeyValueRepository struct {
	db *sql.DB
}

func NewKeyValueRepository(db *sql.DB) *KeyValueRepository {
	return &KeyValueRepository{db: db}
}

func (r *KeyValueRepository) Put(key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}

	_, err := r.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Format(time.RFC3339))

	return err
}

func (r *KeyValueRepository) Get(key string) ([]byte, error) {
	var value []byte

	err := r.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	if value == nil {
		value = []byte{}
	}

	return value, nil
}

func (r *KeyValueRepository) Delete(key string) error {
	_, err := r.db.Exec(`DELETE FROM kv WHERE key = ?`, key)

	return err
}

func (r *KeyValueRepository) List(prefix string) (map[string][]byte, error) {
	rows, err := r.db.Query(`SELECT key, value FROM kv WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string][]byte)

	for rows.Next() {
		var (
			key   string
			value []byte
		)

		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}

		if strings.HasPrefix(key, prefix) {
			values[key] = value
		}
	}

	return values, rows.Err()
}
