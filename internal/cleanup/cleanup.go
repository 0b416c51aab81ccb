package cleanup

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/storage"
)

// DeleteExpiredFiles deletes completed files older than keepDuration and returns the ids
// whose file is gone, either removed now or already missing.
func DeleteExpiredFiles(ctx context.Context, fs afero.Fs, records []storage.ArtifactRecord, keepDuration time.Duration, now time.Time) ([]string, error) {
	logger := logctx.LoggerFromContext(ctx)

	var gone []string

	for _, rec := range records {
		info, err := fs.Stat(rec.FilePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				gone = append(gone, rec.ItemID)

				continue
			}

			logger.Error("failed to stat file", "file", rec.FilePath, "err", err)

			return gone, err
		}

		completedAt, err := time.Parse(time.RFC3339, rec.CompletedAt)
		if err != nil {
			logger.Warn("failed to parse completion time, using file mod time", "file", rec.FilePath, "err", err)

			completedAt = info.ModTime()
		}

		if now.Sub(completedAt) <= keepDuration {
			continue
		}

		if err := fs.Remove(rec.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error("failed to delete expired file", "file", rec.FilePath, "err", err)

			return gone, err
		}

		logger.Info("deleted expired file",
			"file", rec.FilePath,
			"size", humanize.Bytes(uint64(info.Size())),
			"completed", humanize.RelTime(completedAt, now, "ago", "from now"),
		)

		gone = append(gone, rec.ItemID)
	}

	return gone, nil
}
