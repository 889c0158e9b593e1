// Package wa adapts the whatsmeow protocol library to the session layer.
// The session state machine only sees the Conn and Dialer interfaces here,
// so its lifecycle logic is testable without a live connection.
package wa

import (
	"context"

	"zapgate/internal/domain"
)

// Avatar is a fetched contact picture. Size is the byte length of the raw
// payload so callers can enforce their cap before attaching the data URI.
type Avatar struct {
	DataURI string
	Size    int
}

// Conn is one protocol connection, owned exclusively by a single session.
type Conn interface {
	// Connect opens the connection. For an unpaired credential store it
	// also starts the QR pairing flow, surfacing codes through the sink.
	Connect() error
	// Disconnect closes the connection without logging out. Lifecycle
	// events stop after Disconnect returns.
	Disconnect()
	// Logout invalidates the pairing on the remote side and disconnects.
	Logout(ctx context.Context) error
	IsConnected() bool
	// SendText delivers a plain text message and returns the
	// protocol-assigned message id.
	SendText(ctx context.Context, phone, text string) (string, error)
	// Avatar fetches the profile picture for phone; an empty phone fetches
	// the session's own avatar. A nil result with nil error means the
	// contact has no picture.
	Avatar(ctx context.Context, phone string) (*Avatar, error)
}

// DisconnectCause classifies a connection loss for the retry decision.
type DisconnectCause int

const (
	// CauseTransient is an ordinary drop; reconnecting is worthwhile.
	CauseTransient DisconnectCause = iota
	// CauseLoggedOut means the pairing was invalidated remotely.
	CauseLoggedOut
	// CauseReplaced means another client took over the stream; reconnecting
	// would only steal it back.
	CauseReplaced
)

// EventSink receives lifecycle and message callbacks from a connection.
// Callbacks arrive on the protocol library's goroutines; implementations
// must be safe for concurrent use.
type EventSink interface {
	OnQRCode(code string)
	OnConnected(phone, profileName string)
	OnDisconnected(reason string, cause DisconnectCause)
	OnMessage(msg *domain.NormalizedMessage)
}

// Dialer creates protocol connections backed by the credential store under
// credDir. Tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, sessionID, credDir string, sink EventSink) (Conn, error)
}
