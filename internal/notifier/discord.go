package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/transfer"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// Forward notifies about completed and failed transfers until events is closed.
// Delivery failures are logged and do not stop forwarding.
func Forward(ctx context.Context, n Notifier, events <-chan transfer.Event) {
	logger := logctx.LoggerFromContext(ctx)

	for ev := range events {
		var content string

		switch ev.State.Kind {
		case transfer.KindCompleted:
			content = fmt.Sprintf("Download completed: %s (%s)", ev.ID, ev.State.LocalPath)
		case transfer.KindFailed:
			content = fmt.Sprintf("Download failed: %s: %s", ev.ID, ev.State.Reason)
		default:
			continue
		}

		if err := n.Notify(ctx, content); err != nil {
			logger.Error("failed to send notification", "item_id", ev.ID, "err", err)
		}
	}
}
