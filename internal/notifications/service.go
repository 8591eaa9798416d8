package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadpipe/internal/config"
)

const userAgent = "leadpipe/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyLeadCreated(ctx context.Context, name, category, profileURL string) error
	NotifyRecordFailed(ctx context.Context, recordID int64, stage, reason string) error
	NotifyDrainCompleted(ctx context.Context, batchID string, processed, failed int, duration time.Duration) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when a topic is
// configured, and a noop implementation otherwise.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		leads:    cfg.Leads,
		failures: cfg.Failures,
		drains:   cfg.Drains,
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
	leads    bool
	failures bool
	drains   bool
}

func (n *ntfyService) NotifyLeadCreated(ctx context.Context, name, category, profileURL string) error {
	if !n.leads {
		return nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "unnamed lead"
	}
	message := fmt.Sprintf("New lead: %s", name)
	if category = strings.TrimSpace(category); category != "" {
		message = fmt.Sprintf("%s (%s)", message, category)
	}
	if profileURL = strings.TrimSpace(profileURL); profileURL != "" {
		message = fmt.Sprintf("%s\n%s", message, profileURL)
	}
	return n.send(ctx, payload{
		title:    "leadpipe - New Lead",
		message:  message,
		tags:     []string{"leadpipe", "lead", "created"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyRecordFailed(ctx context.Context, recordID int64, stage, reason string) error {
	if !n.failures {
		return nil
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "Record %d failed", recordID)
	if stage = strings.TrimSpace(stage); stage != "" {
		builder.WriteString(" at ")
		builder.WriteString(stage)
	}
	builder.WriteString(": ")
	if reason = strings.TrimSpace(reason); reason != "" {
		builder.WriteString(reason)
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:   "leadpipe - Record Failed",
		message: builder.String(),
		tags:    []string{"leadpipe", "error", "record"},
	})
}

func (n *ntfyService) NotifyDrainCompleted(ctx context.Context, batchID string, processed, failed int, duration time.Duration) error {
	if !n.drains {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	scope := "all batches"
	if batchID = strings.TrimSpace(batchID); batchID != "" {
		scope = "batch " + batchID
	}

	title := "leadpipe - Drain Complete"
	message := fmt.Sprintf("Drained %s: %d stage runs in %s", scope, processed, duration)
	if failed > 0 {
		title = "leadpipe - Drain Complete (with errors)"
		message = fmt.Sprintf("Drained %s: %d stage runs, %d failed in %s", scope, processed, failed, duration)
	}
	return n.send(ctx, payload{
		title:   title,
		message: message,
		tags:    []string{"leadpipe", "drain", "completed"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "leadpipe - Test",
		message:  "Notification system test",
		tags:     []string{"leadpipe", "test"},
		priority: "low",
	})
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

type noopService struct{}

func (noopService) NotifyLeadCreated(context.Context, string, string, string) error { return nil }
func (noopService) NotifyRecordFailed(context.Context, int64, string, string) error { return nil }
func (noopService) NotifyDrainCompleted(context.Context, string, int, int, time.Duration) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
