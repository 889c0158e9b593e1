package wa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"zapgate/internal/metrics"
)

// credDBFile is the sqlite credential store inside each session directory.
const credDBFile = "session.db"

// DialerConfig configures the live dialer.
type DialerConfig struct {
	Logger *slog.Logger
	// PrintQR additionally renders pairing codes on the terminal.
	PrintQR bool
	// MaxAvatarBytes bounds how much of an avatar payload is read. Reads
	// stop one byte past the cap so callers can detect oversized results.
	MaxAvatarBytes int
}

// NewDialer returns a Dialer that connects to WhatsApp through whatsmeow,
// with one sqlite credential store per session directory.
func NewDialer(cfg DialerConfig) Dialer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAvatar := cfg.MaxAvatarBytes
	if maxAvatar <= 0 {
		maxAvatar = 300 * 1024
	}
	return &liveDialer{
		logger:    logger,
		printQR:   cfg.PrintQR,
		maxAvatar: maxAvatar,
		httpc:     &http.Client{Timeout: 30 * time.Second},
	}
}

type liveDialer struct {
	logger    *slog.Logger
	printQR   bool
	maxAvatar int
	httpc     *http.Client
}

func (d *liveDialer) Dial(ctx context.Context, sessionID, credDir string, sink EventSink) (Conn, error) {
	if err := os.MkdirAll(credDir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}

	dsn := "file:" + filepath.Join(credDir, credDBFile) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)"
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Stdout("store/"+sessionID, "WARN", false))
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	// Returns a fresh device when the store is empty; credential updates
	// are persisted to the store as the handshake state changes.
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("wa/"+sessionID, "WARN", false))
	// Reconnection is owned by the session manager, not the library.
	client.EnableAutoReconnect = false

	c := &liveConn{
		sessionID: sessionID,
		client:    client,
		sink:      sink,
		logger:    d.logger,
		printQR:   d.printQR,
		maxAvatar: d.maxAvatar,
		httpc:     d.httpc,
	}
	client.AddEventHandler(c.handleEvent)
	return c, nil
}

type liveConn struct {
	sessionID string
	client    *whatsmeow.Client
	sink      EventSink
	logger    *slog.Logger
	printQR   bool
	maxAvatar int
	httpc     *http.Client
	closed    atomic.Bool
}

func (c *liveConn) Connect() error {
	if c.client.Store.ID == nil {
		qrChan, err := c.client.GetQRChannel(context.Background())
		if err != nil {
			if !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
				return fmt.Errorf("qr channel: %w", err)
			}
		} else {
			go c.pumpQR(qrChan)
		}
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Disconnect closes the socket without logging out. Intentional: events
// after this point are dropped so a teardown never looks like a
// connection loss.
func (c *liveConn) Disconnect() {
	c.closed.Store(true)
	c.client.Disconnect()
}

func (c *liveConn) Logout(ctx context.Context) error {
	c.closed.Store(true)
	if err := c.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *liveConn) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *liveConn) SendText(ctx context.Context, phone, text string) (string, error) {
	jid := types.NewJID(phone, types.DefaultUserServer)
	resp, err := c.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

func (c *liveConn) Avatar(ctx context.Context, phone string) (*Avatar, error) {
	var jid types.JID
	if phone == "" {
		id := c.client.Store.ID
		if id == nil {
			return nil, fmt.Errorf("own identity not known yet")
		}
		jid = id.ToNonAD()
	} else {
		jid = types.NewJID(phone, types.DefaultUserServer)
	}

	metrics.ProfileFetches.Inc()
	info, err := c.client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{Preview: true})
	if err != nil {
		return nil, fmt.Errorf("profile picture info: %w", err)
	}
	if info == nil || info.URL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("avatar request: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("avatar download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("avatar download: unexpected status %d", resp.StatusCode)
	}

	// One byte past the cap is enough to tell oversized from exact fit.
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.maxAvatar)+1))
	if err != nil {
		return nil, fmt.Errorf("avatar read: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/jpeg"
	}
	return &Avatar{DataURI: DataURI(mime, data), Size: len(data)}, nil
}

func (c *liveConn) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	var last string
	for item := range ch {
		if c.closed.Load() {
			return
		}
		switch item.Event {
		case "code":
			if item.Code == last {
				continue
			}
			last = item.Code
			if c.printQR {
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
			}
			c.sink.OnQRCode(item.Code)
		case "timeout":
			c.sink.OnDisconnected("pairing window timed out", CauseTransient)
		}
	}
}

func (c *liveConn) handleEvent(evt interface{}) {
	if c.closed.Load() {
		return
	}
	switch v := evt.(type) {
	case *events.Connected:
		c.announcePresence()
		phone := ""
		if id := c.client.Store.ID; id != nil {
			phone = id.User
		}
		c.sink.OnConnected(phone, c.client.Store.PushName)
	case *events.PairSuccess:
		c.logger.Info("pairing complete", "session", c.sessionID, "jid", v.ID.String())
	case *events.LoggedOut:
		c.sink.OnDisconnected(fmt.Sprintf("logged out by remote (%v)", v.Reason), CauseLoggedOut)
	case *events.StreamReplaced:
		c.sink.OnDisconnected("stream replaced by another client", CauseReplaced)
	case *events.Disconnected:
		c.sink.OnDisconnected("connection closed", CauseTransient)
	case *events.Message:
		c.handleMessage(v)
	}
}

func (c *liveConn) announcePresence() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.SendPresence(ctx, types.PresenceAvailable); err != nil {
		c.logger.Debug("send presence", "session", c.sessionID, "err", err)
	}
}

func (c *liveConn) handleMessage(evt *events.Message) {
	// Only direct conversations feed the pipeline.
	if evt.Info.IsGroup || evt.Info.Chat.Server == types.GroupServer {
		return
	}
	c.sink.OnMessage(c.normalize(evt))
}
