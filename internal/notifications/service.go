package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kvweb/internal/config"
)

const userAgent = "kvweb/0.1.0"

// Service defines the notification surface exposed to the job client.
type Service interface {
	NotifyJobSubmitted(ctx context.Context, jobID, baseName string) error
	NotifyJobCompleted(ctx context.Context, jobID, baseName, resultDir string) error
	NotifyJobFailed(ctx context.Context, jobID, baseName, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
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
}

func (n *ntfyService) NotifyJobSubmitted(ctx context.Context, jobID, baseName string) error {
	data := payload{
		title:   "kvweb - Job Submitted",
		message: fmt.Sprintf("Submitted %s (job %s)", label(baseName), strings.TrimSpace(jobID)),
		tags:    []string{"kvweb", "job", "submitted"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, jobID, baseName, resultDir string) error {
	message := fmt.Sprintf("Cavity detection finished for %s (job %s)", label(baseName), strings.TrimSpace(jobID))
	if resultDir = strings.TrimSpace(resultDir); resultDir != "" {
		message = fmt.Sprintf("%s\nResults: %s", message, resultDir)
	}
	data := payload{
		title:    "kvweb - Job Complete",
		message:  message,
		tags:     []string{"kvweb", "job", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID, baseName, reason string) error {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Job %s for %s failed", strings.TrimSpace(jobID), label(baseName))
	if reason = strings.TrimSpace(reason); reason != "" {
		builder.WriteString(": ")
		builder.WriteString(reason)
	}
	data := payload{
		title:    "kvweb - Job Failed",
		message:  builder.String(),
		tags:     []string{"kvweb", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "kvweb - Test",
		message:  "Notification system test",
		tags:     []string{"kvweb", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func label(baseName string) string {
	baseName = strings.TrimSpace(baseName)
	if baseName == "" {
		return "structure"
	}
	return baseName
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

func (noopService) NotifyJobSubmitted(context.Context, string, string) error         { return nil }
func (noopService) NotifyJobCompleted(context.Context, string, string, string) error { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, string) error    { return nil }
func (noopService) TestNotification(context.Context) error                           { return nil }
