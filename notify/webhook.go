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
	"net/http"
	"strings"
	"sync"
	"time"

	"twocheck/observability/metrics"
)

const (
	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// WebhookPayload is the delivery body posted to the configured endpoint.
type WebhookPayload struct {
	Message
	DeliveryID string    `json:"deliveryId"`
	SentAt     time.Time `json:"sentAt"`
}

// WebhookSender delivers notifications to a single HTTP endpoint with HMAC
// signing, retry and exponential backoff. Send is fire-and-forget: delivery
// happens on a worker goroutine and a full queue drops the message rather
// than blocking the protocol core.
type WebhookSender struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan []byte
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped int
	nextID  int64
}

// Option mutates webhook sender configuration.
type Option func(*WebhookSender)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(w *WebhookSender) {
		if client != nil {
			w.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(w *WebhookSender) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			w.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			w.maxBackoff = maxBackoff
		}
	}
}

// NewWebhookSender constructs a sender and spawns the worker goroutine.
func NewWebhookSender(endpoint string, secret []byte, opts ...Option) (*WebhookSender, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	sender := &WebhookSender{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan []byte, 64),
	}
	for _, opt := range opts {
		opt(sender)
	}
	sender.wg.Add(1)
	go sender.worker()
	return sender, nil
}

// Close stops the sender and waits for the inflight delivery to finish.
func (w *WebhookSender) Close() {
	if w == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
}

// Send implements the Sender interface.
func (w *WebhookSender) Send(msg Message) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.mu.Unlock()

	payload := WebhookPayload{
		Message:    msg,
		DeliveryID: fmt.Sprintf("notify-%d-%d", time.Now().UnixNano(), id),
		SentAt:     time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case w.queue <- body:
	case <-w.ctx.Done():
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
}

// Dropped reports how many messages have been discarded on a full queue.
func (w *WebhookSender) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *WebhookSender) worker() {
	defer w.wg.Done()
	for {
		select {
		case body := <-w.queue:
			w.process(body)
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *WebhookSender) process(body []byte) {
	attempt := 0
	backoff := w.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(w.ctx, w.client.Timeout)
		err := w.deliver(ctx, body)
		cancel()
		if err == nil {
			return
		}
		metrics.Protocol().IncWebhookFailure(w.endpoint)
		if attempt >= w.maxAttempts {
			return
		}
		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, w.maxBackoff)
	}
}

func (w *WebhookSender) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TwoCheck-Signature", w.sign(body))
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

func (w *WebhookSender) sign(body []byte) string {
	mac := hmac.New(sha256.New, w.secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
