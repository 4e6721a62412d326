package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"jobdesk/internal/domain"
)

// ErrNotConfigured is returned when no destination URL was configured. Runs
// still complete; the delivery is recorded as failed.
var ErrNotConfigured = errors.New("webhook URL not configured")

const defaultTimeout = 5 * time.Second

type Notifier struct {
	url    string
	client *http.Client
}

func NewNotifier(url string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Notifier{url: url, client: &http.Client{Timeout: timeout}}
}

// Notify delivers the completion notification. One attempt, no retries; any
// transport error or non-2xx response is reported to the caller.
func (n *Notifier) Notify(ctx context.Context, payload domain.Notification) error {
	if n.url == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	deliveryID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", deliveryID)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(msg))
	}

	log.Debug().
		Int64("job_id", payload.JobID).
		Str("delivery_id", deliveryID).
		Msg("webhook delivered")
	return nil
}
