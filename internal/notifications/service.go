package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mehebubhossain/apex-mdapi/internal/batch"
	"github.com/mehebubhossain/apex-mdapi/internal/config"
)

const userAgent = "Mdapi-Go/0.1.0"

// Service defines the notification surface exposed to the batch driver and CLI.
type Service interface {
	BatchStarted(ctx context.Context, b *batch.Batch) error
	BatchCompleted(ctx context.Context, b *batch.Batch) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint:       topic,
		client:         client,
		batchStarted:   cfg.Notifications.BatchStarted,
		batchCompleted: cfg.Notifications.BatchCompleted,
		errors:         cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client

	batchStarted   bool
	batchCompleted bool
	errors         bool
}

func (n *ntfyService) BatchStarted(ctx context.Context, b *batch.Batch) error {
	if !n.batchStarted {
		return nil
	}
	data := payload{
		title:   "Mdapi - Batch Started",
		message: fmt.Sprintf("Started batch %s with %d items", batchLabel(b), len(b.Items)),
		tags:    []string{"mdapi", "batch", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) BatchCompleted(ctx context.Context, b *batch.Batch) error {
	if !n.batchCompleted {
		return nil
	}
	counts := b.Counts()

	var title, message string
	if counts.Failed == 0 {
		title = "Mdapi - Batch Complete"
		message = fmt.Sprintf("Batch %s complete: %d items succeeded", batchLabel(b), counts.Succeeded)
	} else {
		title = "Mdapi - Batch Complete (with errors)"
		message = fmt.Sprintf("Batch %s complete: %d succeeded, %d failed", batchLabel(b), counts.Succeeded, counts.Failed)
	}

	data := payload{
		title:    title,
		message:  message,
		tags:     []string{"mdapi", "batch", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Mdapi - Error",
		message:  builder.String(),
		tags:     []string{"mdapi", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Mdapi - Test",
		message:  "Notification system test",
		tags:     []string{"mdapi", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func batchLabel(b *batch.Batch) string {
	if name := strings.TrimSpace(b.Name); name != "" {
		return name
	}
	return b.ID
}

type noopService struct{}

func (noopService) BatchStarted(context.Context, *batch.Batch) error   { return nil }
func (noopService) BatchCompleted(context.Context, *batch.Batch) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error   { return nil }
func (noopService) TestNotification(context.Context) error             { return nil }
