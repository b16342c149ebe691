// Package notify delivers fire-and-forget push notifications via ntfy.sh.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Notifier sends an operator-facing message. Delivery failure is logged by
// implementations and never surfaces to the pipeline.
type Notifier interface {
	Send(ctx context.Context, title, message string)
}

// Ntfy posts to https://ntfy.sh/<topic>.
type Ntfy struct {
	Topic   string
	BaseURL string // override for tests; default https://ntfy.sh
	client  *http.Client
	logger  *slog.Logger
}

func NewNtfy(topic string, timeout time.Duration, logger *slog.Logger) *Ntfy {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ntfy{
		Topic:   topic,
		BaseURL: "https://ntfy.sh",
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Send posts the message. A blank topic disables delivery entirely.
func (n *Ntfy) Send(ctx context.Context, title, message string) {
	if n.Topic == "" {
		return
	}
	url := fmt.Sprintf("%s/%s", n.BaseURL, n.Topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		n.logger.Warn("notify request build failed", "error", err)
		return
	}
	req.Header.Set("Title", title)

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("notify delivery failed", "topic", n.Topic, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("notify rejected", "topic", n.Topic, "status", resp.StatusCode)
		return
	}
	n.logger.Info("notify sent", "topic", n.Topic, "title", title)
}

// Noop discards notifications; used when no topic is configured.
type Noop struct{}

func (Noop) Send(context.Context, string, string) {}
