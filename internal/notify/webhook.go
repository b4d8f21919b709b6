package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"printflow/internal/config"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultQueueSize      = 256
	defaultMaxAttempts    = 3

	signatureHeader = "X-Printflow-Signature"
)

// retryBackoff is the wait before the second attempt; it doubles after each failure.
var retryBackoff = 500 * time.Millisecond

type delivery struct {
	hook config.WebhookConfig
	n    Notification
}

// WebhookSink posts notifications as JSON to configured endpoints from a
// background worker. A full queue drops the notification with a warning.
// Bodies are signed with HMAC-SHA256 over the hook secret; transport errors,
// 429 and 5xx responses are retried with exponential backoff.
type WebhookSink struct {
	log    *zap.Logger
	hooks  []config.WebhookConfig
	client *http.Client
	queue  chan delivery
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewWebhookSink(hooks []config.WebhookConfig, queueSize int, log *zap.Logger) *WebhookSink {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	var active []config.WebhookConfig
	for _, h := range hooks {
		if h.Active() {
			active = append(active, h)
		}
	}
	s := &WebhookSink{
		log:    log,
		hooks:  active,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		queue:  make(chan delivery, queueSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *WebhookSink) Emit(_ context.Context, n Notification) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	for _, hook := range s.hooks {
		if !newEventFilter(hook.Events).match(n.Event) {
			continue
		}
		select {
		case s.queue <- delivery{hook: hook, n: n}:
		default:
			s.log.Warn("webhook queue full, dropping notification", zap.String("url", hook.URL), zap.String("event", n.Event), zap.Int64("order_id", n.OrderID))
		}
	}
}

// Close stops accepting work and waits for queued deliveries.
func (s *WebhookSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *WebhookSink) run() {
	defer s.wg.Done()
	for d := range s.queue {
		if err := s.deliver(d.hook, d.n); err != nil {
			s.log.Warn("webhook delivery failed", zap.String("url", d.hook.URL), zap.String("event", d.n.Event), zap.Error(err))
		}
	}
}

type deliveryError struct {
	err       error
	retryable bool
}

func (e *deliveryError) Error() string { return e.err.Error() }

func (e *deliveryError) Unwrap() error { return e.err }

func (s *WebhookSink) deliver(hook config.WebhookConfig, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	attempts := hook.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	id := uuid.NewString()
	wait := retryBackoff
	for attempt := 1; ; attempt++ {
		err := s.post(hook, n.Event, id, data)
		if err == nil {
			return nil
		}
		var de *deliveryError
		if attempt >= attempts || (errors.As(err, &de) && !de.retryable) {
			return fmt.Errorf("attempt %d/%d: %w", attempt, attempts, err)
		}
		s.log.Debug("webhook delivery retry", zap.String("url", hook.URL), zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(wait)
		wait *= 2
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (s *WebhookSink) post(hook config.WebhookConfig, event, id string, data []byte) error {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Printflow-Event", event)
	req.Header.Set("X-Printflow-Delivery", id)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set(signatureHeader, Sign(hook.Secret, data))
	}
	res, err := s.client.Do(req)
	if err != nil {
		return &deliveryError{err: err, retryable: true}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &deliveryError{
			err:       fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body))),
			retryable: res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500,
		}
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
