package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zapgate/internal/domain"
	"zapgate/internal/metrics"
	"zapgate/internal/wa"
)

// Machine owns one session's connection lifecycle: pairing, connection
// tracking, and bounded reconnection. Its handlers only touch this
// session's own state; the manager lock is never held inside them.
type Machine struct {
	id      string
	ownerID string
	credDir string

	mgr *Manager

	mu         sync.Mutex
	state      domain.SessionState
	qrImage    string // PNG data URI, present only while awaiting pairing
	phone      string
	profile    string
	retryCount int
	lastErr    string
	updatedAt  time.Time
	conn       wa.Conn
	torn       bool // teardown ran; a late start must not install a conn
	purge      bool // teardown was a delete; late start also drops credentials
}

func newMachine(mgr *Manager, id, ownerID string) *Machine {
	return &Machine{
		id:        id,
		ownerID:   ownerID,
		credDir:   filepath.Join(mgr.authDir, id),
		mgr:       mgr,
		state:     domain.StateUninitialized,
		updatedAt: time.Now(),
	}
}

// start dials the protocol connection and opens it. Runs asynchronously;
// failures land in the failed state and surface through Status only.
// A delete may complete while Dial is still in flight; the torn flag makes
// the late result get discarded instead of resurrecting the session.
func (m *Machine) start(ctx context.Context) {
	m.setState(domain.StateInitializing)

	conn, err := m.mgr.dialer.Dial(ctx, m.id, m.credDir, m)
	if err != nil {
		m.initFailed(fmt.Errorf("dial: %w", err))
		return
	}

	m.mu.Lock()
	if m.torn {
		purge := m.purge
		m.mu.Unlock()
		conn.Disconnect()
		if purge {
			// Dial recreated the credential dir the delete already removed.
			if err := os.RemoveAll(m.credDir); err != nil {
				m.mgr.logger.Warn("remove credential dir", "session", m.id, "err", err)
			}
		}
		return
	}
	m.conn = conn
	m.mu.Unlock()

	if err := conn.Connect(); err != nil {
		m.initFailed(fmt.Errorf("connect: %w", err))
	}
}

// reconnect is invoked by the manager when a scheduled reconnection timer
// fires. The manager has already re-validated that this session exists.
func (m *Machine) reconnect(ctx context.Context) {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	m.state = domain.StateInitializing
	m.updatedAt = time.Now()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		m.start(ctx)
		return
	}
	if err := conn.Connect(); err != nil {
		m.mgr.logger.Warn("reconnect attempt failed", "session", m.id, "err", err)
		m.OnDisconnected(fmt.Sprintf("reconnect failed: %v", err), wa.CauseTransient)
	}
}

// teardown releases the connection handle and marks the machine so a start
// still in flight discards its result. purgeCreds distinguishes a delete
// (credentials must not survive) from a shutdown (credentials must).
func (m *Machine) teardown(purgeCreds bool) {
	m.mu.Lock()
	m.torn = true
	m.purge = purgeCreds
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
}

func (m *Machine) initFailed(err error) {
	m.mu.Lock()
	if m.torn {
		m.mu.Unlock()
		return
	}
	m.state = domain.StateFailed
	m.lastErr = err.Error()
	m.updatedAt = time.Now()
	m.mu.Unlock()

	m.mgr.cancelTimer(m.id)
	metrics.SessionsFailed.Inc()
	m.mgr.logger.Error("session initialization failed", "session", m.id, "err", err)
}

func (m *Machine) setState(s domain.SessionState) {
	m.mu.Lock()
	m.state = s
	m.updatedAt = time.Now()
	m.mu.Unlock()
}

// Status returns a snapshot safe to serialize for polling clients.
func (m *Machine) Status() domain.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.SessionStatus{
		SessionID:   m.id,
		OwnerID:     m.ownerID,
		State:       m.state,
		Phone:       m.phone,
		ProfileName: m.profile,
		RetryCount:  m.retryCount,
		LastError:   m.lastErr,
		UpdatedAt:   m.updatedAt,
	}
}

// QR returns the current pairing image and state.
func (m *Machine) QR() (string, domain.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qrImage, m.state
}

func (m *Machine) sendText(ctx context.Context, phone, text string) (string, error) {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()
	if state != domain.StateConnected || conn == nil {
		return "", domain.ErrNotConnected
	}
	return conn.SendText(ctx, phone, text)
}

// --- wa.EventSink ---

// OnQRCode stores the pairing code and notifies consumers. Repeated codes
// are already collapsed by the connection layer.
func (m *Machine) OnQRCode(code string) {
	img, err := wa.QRDataURI(code)
	if err != nil {
		m.mgr.logger.Error("render qr", "session", m.id, "err", err)
		return
	}
	m.mu.Lock()
	m.state = domain.StateAwaitingPairing
	m.qrImage = img
	m.updatedAt = time.Now()
	m.mu.Unlock()

	m.mgr.logger.Info("pairing code issued", "session", m.id)
	m.mgr.notifier.QRUpdate(m.id, img)
}

// OnConnected captures the session identity and clears retry bookkeeping.
// The connection notification goes out from a separate goroutine so the
// best-effort own-avatar fetch never stalls the protocol event loop.
func (m *Machine) OnConnected(phone, profileName string) {
	m.mu.Lock()
	m.state = domain.StateConnected
	m.phone = phone
	m.profile = profileName
	m.retryCount = 0
	m.lastErr = ""
	m.qrImage = ""
	m.updatedAt = time.Now()
	conn := m.conn
	m.mu.Unlock()

	m.mgr.cancelTimer(m.id)
	m.mgr.logger.Info("session connected", "session", m.id, "phone", phone, "profile", profileName)
	go m.announceConnected(conn, phone, profileName)
}

func (m *Machine) announceConnected(conn wa.Conn, phone, profileName string) {
	avatar := ""
	if conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if av, err := conn.Avatar(ctx, ""); err != nil {
			m.mgr.logger.Debug("own avatar fetch failed", "session", m.id, "err", err)
		} else if av != nil && m.mgr.profiles.Fits(av.Size) {
			avatar = av.DataURI
		}
		cancel()
	}
	m.mgr.notifier.ConnectionEstablished(m.id, phone, profileName, avatar)
}

// OnDisconnected drives the retry state machine. A terminal logout stops
// everything; a replaced stream fails the session without retrying, since
// reconnecting would steal the stream back from the other client; anything
// else gets up to maxRetries reconnections with a fixed delay before the
// session lands in failed.
func (m *Machine) OnDisconnected(reason string, cause wa.DisconnectCause) {
	m.mu.Lock()
	if m.torn || m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	m.updatedAt = time.Now()

	switch cause {
	case wa.CauseLoggedOut:
		m.state = domain.StateLoggedOut
		m.lastErr = domain.ErrTerminalLogout.Error()
		m.mu.Unlock()

		m.mgr.cancelTimer(m.id)
		metrics.SessionsLoggedOut.Inc()
		m.mgr.logger.Warn("session logged out", "session", m.id, "reason", reason)
		m.mgr.notifier.ConnectionLost(m.id, domain.StateLoggedOut, reason)
		return

	case wa.CauseReplaced:
		m.retryCount = 0
		m.state = domain.StateFailed
		m.lastErr = reason
		m.mu.Unlock()

		m.mgr.cancelTimer(m.id)
		metrics.SessionsFailed.Inc()
		m.mgr.logger.Warn("session stream replaced, not reconnecting", "session", m.id, "reason", reason)
		m.mgr.notifier.ConnectionLost(m.id, domain.StateFailed, reason)
		return
	}

	if m.retryCount < m.mgr.maxRetries {
		m.retryCount++
		// The session passes through disconnected and the notification
		// carries that status; by the time it lands the state has already
		// moved on to reconnecting.
		m.state = domain.StateReconnecting
		m.lastErr = reason
		retry := m.retryCount
		m.mu.Unlock()

		m.mgr.logger.Info("session disconnected, reconnect scheduled",
			"session", m.id, "retry", retry, "max", m.mgr.maxRetries, "reason", reason)
		m.mgr.notifier.ConnectionLost(m.id, domain.StateDisconnected, reason)
		m.mgr.scheduleReconnect(m.id)
		return
	}

	m.retryCount = 0
	m.state = domain.StateFailed
	m.lastErr = domain.ErrMaxRetriesExceeded.Error()
	m.mu.Unlock()

	m.mgr.cancelTimer(m.id)
	metrics.SessionsFailed.Inc()
	m.mgr.logger.Error("session failed, reconnect attempts exhausted", "session", m.id, "reason", reason)
	m.mgr.notifier.ConnectionLost(m.id, domain.StateFailed, domain.ErrMaxRetriesExceeded.Error())
}

// OnMessage runs the inbound pipeline: echo suppression, profile
// enrichment, webhook dispatch.
func (m *Machine) OnMessage(msg *domain.NormalizedMessage) {
	if msg.FromMe && m.mgr.dedup.Seen(m.id, msg.MessageID) {
		metrics.MessagesSuppressed.Inc()
		m.mgr.logger.Debug("suppressed self-sent echo", "session", m.id, "message", msg.MessageID)
		return
	}
	metrics.MessagesReceived.Inc()

	if !msg.FromMe && m.mgr.profiles.Begin(msg.From) {
		go m.fetchProfile(msg.From, msg.SenderName)
	}

	m.mgr.notifier.MessageReceived(msg)
}

// fetchProfile fetches a contact avatar once per TTL window. Oversized
// payloads are discarded and never attached to the notification.
func (m *Machine) fetchProfile(phone, displayName string) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	avatar := ""
	av, err := conn.Avatar(ctx, phone)
	switch {
	case err != nil:
		m.mgr.logger.Debug("avatar fetch failed", "session", m.id, "phone", phone, "err", err)
	case av == nil:
		// Contact has no picture.
	case m.mgr.profiles.Fits(av.Size):
		avatar = av.DataURI
	default:
		m.mgr.logger.Debug("avatar discarded, over size cap",
			"session", m.id, "phone", phone, "bytes", av.Size)
	}

	m.mgr.notifier.ProfileUpdated(m.id, phone, displayName, avatar)
}
