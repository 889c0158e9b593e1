// Package webhook delivers structured gateway events to external HTTP
// consumers. Delivery is single-attempt and best-effort: failures are
// logged and counted per destination, never retried, and never surfaced
// back to the session logic that produced the event.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"zapgate/internal/domain"
	"zapgate/internal/metrics"
)

// Destination names one configured consumer endpoint.
type Destination string

const (
	// DestEvents receives session lifecycle and profile events.
	DestEvents Destination = "events"
	// DestMessages is the primary consumer of message events.
	DestMessages Destination = "messages"
	// DestAutomation is the secondary automation consumer of message events.
	DestAutomation Destination = "automation"
)

// DestinationStats are cumulative delivery counters for one destination.
type DestinationStats struct {
	Requests int64 `json:"requests"`
	Errors   int64 `json:"errors"`
}

type destCounters struct {
	requests atomic.Int64
	errors   atomic.Int64
}

// Config configures a Dispatcher.
type Config struct {
	EventsURL     string
	MessagesURL   string
	AutomationURL string
	// Secret, when set, signs every request body with HMAC-SHA256 in the
	// X-Signature-256 header.
	Secret  string
	Timeout time.Duration
	// Throttle delays message-event dispatch briefly to smooth bursts.
	Throttle time.Duration
	Logger   *slog.Logger
}

// Dispatcher posts events to the configured destinations.
type Dispatcher struct {
	client   *http.Client
	urls     map[Destination]string
	secret   string
	throttle time.Duration
	logger   *slog.Logger
	stats    map[Destination]*destCounters
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Destinations with an empty URL are
// skipped silently at dispatch time.
func NewDispatcher(cfg Config) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:   &http.Client{Timeout: timeout},
		urls: map[Destination]string{
			DestEvents:     cfg.EventsURL,
			DestMessages:   cfg.MessagesURL,
			DestAutomation: cfg.AutomationURL,
		},
		secret:   cfg.Secret,
		throttle: cfg.Throttle,
		logger:   logger,
		stats: map[Destination]*destCounters{
			DestEvents:     {},
			DestMessages:   {},
			DestAutomation: {},
		},
	}
}

// envelope carries the fields common to every outbound event.
type envelope struct {
	EventID   string    `json:"eventId"`
	Event     string    `json:"event"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

func newEnvelope(event, sessionID string) envelope {
	return envelope{
		EventID:   uuid.NewString(),
		Event:     event,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

type qrUpdateEvent struct {
	envelope
	QRCode string `json:"qrCode"`
}

type connectionEvent struct {
	envelope
	Status      domain.SessionState `json:"status"`
	Phone       string              `json:"phone,omitempty"`
	ProfileName string              `json:"profileName,omitempty"`
	Avatar      string              `json:"avatar,omitempty"`
	Reason      string              `json:"reason,omitempty"`
}

type profileEvent struct {
	envelope
	Phone       string `json:"phone"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

type messageEvent struct {
	envelope
	MessageID  string             `json:"messageId"`
	From       string             `json:"from"`
	RawFrom    string             `json:"rawFrom,omitempty"`
	FromMe     bool               `json:"fromMe"`
	Kind       domain.MessageKind `json:"kind"`
	Body       string             `json:"body,omitempty"`
	Media      *domain.Media      `json:"media,omitempty"`
	SenderName string             `json:"senderName,omitempty"`
}

// QRUpdate notifies that a new pairing code was issued.
func (d *Dispatcher) QRUpdate(sessionID, qrDataURI string) {
	d.dispatchAsync(DestEvents, qrUpdateEvent{
		envelope: newEnvelope(domain.EventQRUpdate, sessionID),
		QRCode:   qrDataURI,
	})
}

// ConnectionEstablished notifies that a session reached the connected state.
func (d *Dispatcher) ConnectionEstablished(sessionID, phone, profileName, avatarDataURI string) {
	d.dispatchAsync(DestEvents, connectionEvent{
		envelope:    newEnvelope(domain.EventConnectionEstablished, sessionID),
		Status:      domain.StateConnected,
		Phone:       phone,
		ProfileName: profileName,
		Avatar:      avatarDataURI,
	})
}

// ConnectionLost notifies that a session dropped. status carries the state
// the session landed in (disconnected, reconnecting, failed, logged_out).
func (d *Dispatcher) ConnectionLost(sessionID string, status domain.SessionState, reason string) {
	d.dispatchAsync(DestEvents, connectionEvent{
		envelope: newEnvelope(domain.EventConnectionLost, sessionID),
		Status:   status,
		Reason:   reason,
	})
}

// ProfileUpdated notifies that contact profile data was fetched.
func (d *Dispatcher) ProfileUpdated(sessionID, phone, displayName, avatarDataURI string) {
	d.dispatchAsync(DestEvents, profileEvent{
		envelope:    newEnvelope(domain.EventLeadProfileUpdated, sessionID),
		Phone:       phone,
		DisplayName: displayName,
		Avatar:      avatarDataURI,
	})
}

// MessageReceived forwards a normalized message to the primary and
// automation consumers concurrently. Dispatch is throttled briefly to
// smooth bursts; it counts as successful when at least one destination
// accepts the event.
func (d *Dispatcher) MessageReceived(msg *domain.NormalizedMessage) {
	ev := messageEvent{
		envelope:   newEnvelope(domain.EventMessageReceived, msg.SessionID),
		MessageID:  msg.MessageID,
		From:       msg.From,
		RawFrom:    msg.RawFrom,
		FromMe:     msg.FromMe,
		Kind:       msg.Kind,
		Body:       msg.Body,
		Media:      msg.Media,
		SenderName: msg.SenderName,
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.throttle > 0 {
			time.Sleep(d.throttle)
		}
		d.fanOutMessage(ev)
	}()
}

// fanOutMessage delivers a message event to both message destinations and
// reports whether at least one accepted it.
func (d *Dispatcher) fanOutMessage(ev messageEvent) bool {
	body, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("marshal message event", "session", ev.SessionID, "err", err)
		return false
	}

	results := make(chan error, 2)
	targets := []Destination{DestMessages, DestAutomation}
	for _, dest := range targets {
		go func(dest Destination) {
			results <- d.post(dest, ev.Event, body)
		}(dest)
	}

	ok := false
	for range targets {
		if err := <-results; err == nil {
			ok = true
		}
	}
	if !ok {
		d.logger.Warn("message event rejected by all destinations",
			"session", ev.SessionID, "message", ev.MessageID)
	}
	return ok
}

func (d *Dispatcher) dispatchAsync(dest Destination, ev any) {
	body, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("marshal event", "err", err)
		return
	}
	var name string
	if e, ok := ev.(interface{ eventName() string }); ok {
		name = e.eventName()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.post(dest, name, body)
	}()
}

func (e envelope) eventName() string { return e.Event }

// post delivers one payload to one destination. Single attempt; an
// unconfigured destination reports an error without touching the counters.
func (d *Dispatcher) post(dest Destination, event string, body []byte) error {
	url := d.urls[dest]
	if url == "" {
		return fmt.Errorf("destination %s not configured", dest)
	}

	d.stats[dest].requests.Add(1)
	metrics.WebhookRequests(string(dest)).Inc()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.countError(dest, event, err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		req.Header.Set("X-Signature-256", Sign(body, d.secret))
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.WebhookLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		d.countError(dest, event, err)
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		d.countError(dest, event, err)
		return err
	}
	return nil
}

func (d *Dispatcher) countError(dest Destination, event string, err error) {
	d.stats[dest].errors.Add(1)
	metrics.WebhookErrors(string(dest)).Inc()
	d.logger.Warn("webhook delivery failed", "destination", dest, "event", event, "err", err)
}

// Stats returns a snapshot of the per-destination delivery counters.
func (d *Dispatcher) Stats() map[Destination]DestinationStats {
	out := make(map[Destination]DestinationStats, len(d.stats))
	for dest, c := range d.stats {
		out[dest] = DestinationStats{
			Requests: c.requests.Load(),
			Errors:   c.errors.Load(),
		}
	}
	return out
}

// Close waits for in-flight deliveries to finish.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

// Sign computes the HMAC-SHA256 signature header value for a request body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
