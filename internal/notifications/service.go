package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"creel/internal/config"
)

const userAgent = "Creel/0.1.0"

// Service defines the notification surface exposed to the supervisor
// and reconciler.
type Service interface {
	NotifyRecordingStarted(ctx context.Context, targetName, outputFile string) error
	NotifySegmentRotated(ctx context.Context, targetName string, segmentIndex int) error
	NotifyRecordingCompleted(ctx context.Context, targetName string, segments int, totalBytes int64, duration time.Duration) error
	NotifyRecordingFailed(ctx context.Context, targetName string, cause error) error
	NotifyOrphansRecovered(ctx context.Context, recovered int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when a topic
// is configured, honoring the per-event toggles. Otherwise it returns
// a noop implementation.
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
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		sendStarted:   cfg.Notifications.Started,
		sendRotated:   cfg.Notifications.Rotated,
		sendCompleted: cfg.Notifications.Completed,
		sendErrors:    cfg.Notifications.Errors,
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

	sendStarted   bool
	sendRotated   bool
	sendCompleted bool
	sendErrors    bool
}

func (n *ntfyService) NotifyRecordingStarted(ctx context.Context, targetName, outputFile string) error {
	if !n.sendStarted {
		return nil
	}
	targetName = strings.TrimSpace(targetName)
	message := fmt.Sprintf("Recording started: %s", targetName)
	if outputFile = strings.TrimSpace(outputFile); outputFile != "" {
		message = fmt.Sprintf("%s\nFile: %s", message, outputFile)
	}
	return n.send(ctx, payload{
		title:   "Creel - Recording Started",
		message: message,
		tags:    []string{"creel", "recording", "started"},
	})
}

func (n *ntfyService) NotifySegmentRotated(ctx context.Context, targetName string, segmentIndex int) error {
	if !n.sendRotated {
		return nil
	}
	targetName = strings.TrimSpace(targetName)
	return n.send(ctx, payload{
		title:   "Creel - Segment Rotated",
		message: fmt.Sprintf("Rotated to segment %d: %s", segmentIndex, targetName),
		tags:    []string{"creel", "segment", "rotated"},
	})
}

func (n *ntfyService) NotifyRecordingCompleted(ctx context.Context, targetName string, segments int, totalBytes int64, duration time.Duration) error {
	if !n.sendCompleted {
		return nil
	}
	targetName = strings.TrimSpace(targetName)
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	message := fmt.Sprintf("Recording complete: %s\n%d segment(s), %s in %s",
		targetName, segments, humanize.IBytes(uint64(max(totalBytes, 0))), duration)
	return n.send(ctx, payload{
		title:    "Creel - Recording Complete",
		message:  message,
		tags:     []string{"creel", "recording", "completed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyRecordingFailed(ctx context.Context, targetName string, cause error) error {
	if !n.sendErrors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Recording failed")
	if targetName = strings.TrimSpace(targetName); targetName != "" {
		builder.WriteString(": ")
		builder.WriteString(targetName)
	}
	builder.WriteString("\n")
	if cause != nil {
		builder.WriteString(strings.TrimSpace(cause.Error()))
	} else {
		builder.WriteString("unknown cause")
	}
	return n.send(ctx, payload{
		title:    "Creel - Recording Failed",
		message:  builder.String(),
		tags:     []string{"creel", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyOrphansRecovered(ctx context.Context, recovered int) error {
	if !n.sendErrors || recovered == 0 {
		return nil
	}
	return n.send(ctx, payload{
		title:   "Creel - Orphans Recovered",
		message: fmt.Sprintf("Recovered %d orphaned recording(s) from a previous run", recovered),
		tags:    []string{"creel", "orphan", "recovered"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Creel - Test",
		message:  "Notification system test",
		tags:     []string{"creel", "test"},
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

func (noopService) NotifyRecordingStarted(context.Context, string, string) error { return nil }
func (noopService) NotifySegmentRotated(context.Context, string, int) error      { return nil }
func (noopService) NotifyRecordingCompleted(context.Context, string, int, int64, time.Duration) error {
	return nil
}
func (noopService) NotifyRecordingFailed(context.Context, string, error) error { return nil }
func (noopService) NotifyOrphansRecovered(context.Context, int) error          { return nil }
func (noopService) TestNotification(context.Context) error                     { return nil }
