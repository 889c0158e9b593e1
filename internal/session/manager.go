// Package session implements the multi-session lifecycle core: one state
// machine per session and a manager that owns the collection, the
// reconnection timers, and startup recovery from credential directories.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"zapgate/internal/dedup"
	"zapgate/internal/domain"
	"zapgate/internal/metrics"
	"zapgate/internal/profilecache"
	"zapgate/internal/wa"
)

// Notifier receives the events produced by session handlers. The webhook
// dispatcher implements it; tests substitute a recorder.
type Notifier interface {
	QRUpdate(sessionID, qrDataURI string)
	ConnectionEstablished(sessionID, phone, profileName, avatar string)
	ConnectionLost(sessionID string, status domain.SessionState, reason string)
	ProfileUpdated(sessionID, phone, displayName, avatar string)
	MessageReceived(msg *domain.NormalizedMessage)
}

// Config configures a Manager.
type Config struct {
	Dialer   wa.Dialer
	Notifier Notifier
	Dedup    *dedup.Cache
	Profiles *profilecache.Cache
	// AuthDir holds one credential directory per session id.
	AuthDir    string
	MaxRetries int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Manager owns the session collection. Mutations to the collection and the
// timer map are synchronized here; handler logic inside a session never
// takes the manager lock.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Machine
	timers   map[string]*time.Timer

	dialer     wa.Dialer
	notifier   Notifier
	dedup      *dedup.Cache
	profiles   *profilecache.Cache
	authDir    string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

func NewManager(cfg Config) *Manager {
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 15 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:   make(map[string]*Machine),
		timers:     make(map[string]*time.Timer),
		dialer:     cfg.Dialer,
		notifier:   cfg.Notifier,
		dedup:      cfg.Dedup,
		profiles:   cfg.Profiles,
		authDir:    cfg.AuthDir,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Create registers a new session and kicks off its initialization. It
// returns once initialization has started, not once pairing completes.
// An id already present in any state is rejected with ErrAlreadyExists.
func (g *Manager) Create(ctx context.Context, sessionID, ownerID string) (domain.SessionStatus, error) {
	g.mu.Lock()
	if _, ok := g.sessions[sessionID]; ok {
		g.mu.Unlock()
		return domain.SessionStatus{}, domain.ErrAlreadyExists
	}
	m := newMachine(g, sessionID, ownerID)
	m.state = domain.StateInitializing
	g.sessions[sessionID] = m
	g.mu.Unlock()

	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Set(int64(g.Count()))
	g.logger.Info("session created", "session", sessionID, "owner", ownerID)

	go m.start(context.WithoutCancel(ctx))
	return m.Status(), nil
}

// Delete tears a session down synchronously: cancel any pending
// reconnection timer, close the connection handle, remove the persisted
// credentials, then drop the in-memory record. The record stays in the map
// until teardown completes so a racing create cannot grab the id into a
// half-torn-down state.
func (g *Manager) Delete(sessionID string) error {
	g.mu.Lock()
	m, ok := g.sessions[sessionID]
	if !ok {
		g.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	if t, ok := g.timers[sessionID]; ok {
		t.Stop()
		delete(g.timers, sessionID)
	}
	g.mu.Unlock()

	m.teardown(true)
	if err := os.RemoveAll(m.credDir); err != nil {
		g.logger.Warn("remove credential dir", "session", sessionID, "err", err)
	}

	g.mu.Lock()
	delete(g.sessions, sessionID)
	g.mu.Unlock()

	metrics.SessionsDeleted.Inc()
	metrics.SessionsActive.Set(int64(g.Count()))
	g.logger.Info("session deleted", "session", sessionID)
	return nil
}

// SendText sends a plain text message through a connected session and
// registers the returned message id for echo suppression.
func (g *Manager) SendText(ctx context.Context, sessionID, phone, text string) (string, error) {
	m := g.get(sessionID)
	if m == nil {
		return "", domain.ErrSessionNotFound
	}
	msgID, err := m.sendText(ctx, phone, text)
	if err != nil {
		return "", fmt.Errorf("send via %s: %w", sessionID, err)
	}
	g.dedup.Register(sessionID, msgID)
	metrics.MessagesSent.Inc()
	return msgID, nil
}

// Status returns the snapshot for one session.
func (g *Manager) Status(sessionID string) (domain.SessionStatus, error) {
	m := g.get(sessionID)
	if m == nil {
		return domain.SessionStatus{}, domain.ErrSessionNotFound
	}
	return m.Status(), nil
}

// QR returns the pairing image for one session, with the state so callers
// can distinguish waiting from connected.
func (g *Manager) QR(sessionID string) (string, domain.SessionState, error) {
	m := g.get(sessionID)
	if m == nil {
		return "", "", domain.ErrSessionNotFound
	}
	img, state := m.QR()
	return img, state, nil
}

// List returns snapshots of all sessions, ordered by id.
func (g *Manager) List() []domain.SessionStatus {
	g.mu.Lock()
	machines := make([]*Machine, 0, len(g.sessions))
	for _, m := range g.sessions {
		machines = append(machines, m)
	}
	g.mu.Unlock()

	out := make([]domain.SessionStatus, 0, len(machines))
	for _, m := range machines {
		out = append(out, m.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Count returns the number of managed sessions.
func (g *Manager) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// CountsByState aggregates session states for the status endpoint.
func (g *Manager) CountsByState() map[domain.SessionState]int {
	out := make(map[domain.SessionState]int)
	for _, st := range g.List() {
		out[st.State]++
	}
	return out
}

// PendingTimers returns how many reconnection timers are currently
// scheduled. At most one exists per session.
func (g *Manager) PendingTimers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

// Recover scans the auth directory and re-creates a session for every
// credential directory not already present in memory, letting sessions
// resume across process restarts without re-pairing.
func (g *Manager) Recover(ctx context.Context) int {
	entries, err := os.ReadDir(g.authDir)
	if err != nil {
		if !os.IsNotExist(err) {
			g.logger.Warn("scan auth dir", "dir", g.authDir, "err", err)
		}
		return 0
	}

	recovered := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		if _, err := g.Create(ctx, id, ""); err != nil {
			if !errors.Is(err, domain.ErrAlreadyExists) {
				g.logger.Warn("recover session", "session", id, "err", err)
			}
			continue
		}
		metrics.SessionsRecovered.Inc()
		recovered++
	}
	if recovered > 0 {
		g.logger.Info("sessions recovered from credential directories", "count", recovered)
	}
	return recovered
}

// Shutdown cancels all timers and disconnects every session without
// logging out or touching credentials, so they can be recovered on the
// next start.
func (g *Manager) Shutdown() {
	g.mu.Lock()
	for id, t := range g.timers {
		t.Stop()
		delete(g.timers, id)
	}
	machines := make([]*Machine, 0, len(g.sessions))
	for _, m := range g.sessions {
		machines = append(machines, m)
	}
	g.mu.Unlock()

	for _, m := range machines {
		m.teardown(false)
	}
	g.logger.Info("all sessions disconnected", "count", len(machines))
}

func (g *Manager) get(sessionID string) *Machine {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions[sessionID]
}

// scheduleReconnect arms the reconnection timer for a session. Exactly one
// pending timer may exist per session: an existing handle is left alone.
func (g *Manager) scheduleReconnect(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[sessionID]; !ok {
		return
	}
	if _, ok := g.timers[sessionID]; ok {
		return
	}
	g.timers[sessionID] = time.AfterFunc(g.retryDelay, func() { g.runReconnect(sessionID) })
}

func (g *Manager) cancelTimer(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.timers[sessionID]; ok {
		t.Stop()
		delete(g.timers, sessionID)
	}
}

// runReconnect fires when a reconnection timer elapses. The session may
// have been deleted while the timer was pending; in that case this is a
// no-op.
func (g *Manager) runReconnect(sessionID string) {
	g.mu.Lock()
	delete(g.timers, sessionID)
	m, ok := g.sessions[sessionID]
	g.mu.Unlock()
	if !ok {
		return
	}
	metrics.ReconnectAttempts.Inc()
	m.reconnect(context.Background())
}
