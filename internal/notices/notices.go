// Package notices turns operation outcomes into transient user-visible
// messages. The terminal sink always prints; when an ntfy topic is
// configured the same notice is mirrored there so a long upload can be
// watched from a phone. Nothing here retries or persists.
package notices

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"murmur/internal/config"
)

const userAgent = "Murmur-Go/0.1.0"

// Level classifies a notice for rendering.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is one transient message shown to the user.
type Notice struct {
	ID      string
	Level   Level
	Message string
	At      time.Time
}

// Service publishes notices to the user.
type Service interface {
	Info(ctx context.Context, format string, args ...any)
	Success(ctx context.Context, format string, args ...any)
	Warn(ctx context.Context, format string, args ...any)
	Error(ctx context.Context, format string, args ...any)
}

// New builds a notice service that prints to out and, when an ntfy topic is
// configured, mirrors each notice there. A nil config disables mirroring.
func New(out io.Writer, cfg *config.Config) Service {
	svc := &service{out: out, seen: make(map[string]time.Time)}
	if cfg != nil {
		if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
			timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			svc.mirror = &ntfyMirror{
				endpoint: topic,
				client:   &http.Client{Timeout: timeout},
			}
		}
	}
	return svc
}

type service struct {
	out    io.Writer
	mirror *ntfyMirror

	mu   sync.Mutex
	seen map[string]time.Time
}

const dedupWindow = 5 * time.Second

func (s *service) Info(ctx context.Context, format string, args ...any) {
	s.publish(ctx, LevelInfo, fmt.Sprintf(format, args...))
}

func (s *service) Success(ctx context.Context, format string, args ...any) {
	s.publish(ctx, LevelSuccess, fmt.Sprintf(format, args...))
}

func (s *service) Warn(ctx context.Context, format string, args ...any) {
	s.publish(ctx, LevelWarning, fmt.Sprintf(format, args...))
}

func (s *service) Error(ctx context.Context, format string, args ...any) {
	s.publish(ctx, LevelError, fmt.Sprintf(format, args...))
}

func (s *service) publish(ctx context.Context, level Level, message string) {
	notice := Notice{
		ID:      uuid.NewString(),
		Level:   level,
		Message: message,
		At:      time.Now(),
	}
	if s.duplicate(notice) {
		return
	}
	fmt.Fprintf(s.out, "%s %s\n", prefix(level), message)
	if s.mirror != nil {
		if err := s.mirror.send(ctx, notice); err != nil {
			// Mirroring is best effort; the terminal already has the notice.
			fmt.Fprintf(s.out, "%s ntfy mirror failed: %v\n", prefix(LevelWarning), err)
		}
	}
}

// duplicate suppresses identical notices inside a short window so a burst of
// failures from one action prints once.
func (s *service) duplicate(notice Notice) bool {
	key := string(notice.Level) + ":" + notice.Message
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.seen[key]; ok && notice.At.Sub(last) < dedupWindow {
		return true
	}
	s.seen[key] = notice.At
	return false
}

func prefix(level Level) string {
	switch level {
	case LevelSuccess:
		return "✓"
	case LevelWarning:
		return "!"
	case LevelError:
		return "✗"
	default:
		return "·"
	}
}

func headerTitle(level Level) string {
	switch level {
	case LevelSuccess:
		return "Success"
	case LevelWarning:
		return "Warning"
	case LevelError:
		return "Error"
	default:
		return "Info"
	}
}

type ntfyMirror struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyMirror) send(ctx context.Context, notice Notice) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(notice.Message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", "Murmur - "+headerTitle(notice.Level))
	req.Header.Set("Tags", "murmur,"+string(notice.Level))
	req.Header.Set("X-Notice-ID", notice.ID)
	if notice.Level == LevelError {
		req.Header.Set("Priority", "high")
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
