package sqlite

import (
	"database/sql"
	"time"

	"github.com/italolelis/resumable_downloader/internal/storage"
)

// ArtifactRepository records completed files for retention cleanup.
type ArtifactRepository struct {
	db *sql.DB
}

func NewArtifactRepository(db *sql.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// TrackArtifact upserts the final path of a completed item and stamps it with the current time.
func (r *ArtifactRepository) TrackArtifact(itemID, filePath string) error {
	_, err := r.db.Exec(`
		INSERT INTO artifacts (item_id, file_path, completed_at) VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			file_path = excluded.file_path,
			completed_at = excluded.completed_at
	`, itemID, filePath, time.Now().Format(time.RFC3339))

	return err
}

func (r *ArtifactRepository) GetArtifacts() ([]storage.ArtifactRecord, error) {
	rows, err := r.db.Query(`SELECT item_id, file_path, completed_at FROM artifacts ORDER BY completed_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.ArtifactRecord

	for rows.Next() {
		var (
			record      storage.ArtifactRecord
			completedAt sql.NullString
		)

		if err := rows.Scan(&record.ItemID, &record.FilePath, &completedAt); err != nil {
			return nil, err
		}

		record.CompletedAt = completedAt.String
		records = append(records, record)
	}

	return records, rows.Err()
}

func (r *ArtifactRepository) RemoveArtifact(itemID string) error {
	_, err := r.db.Exec(`DELETE FROM artifacts WHERE item_id = ?`, itemID)

	return err
}
