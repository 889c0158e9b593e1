package domain

import "time"

// MessageKind tags the content variant of a normalized message. Exactly one
// kind is assigned per message; payloads that match nothing are KindUnknown
// rather than dropped.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindSticker  MessageKind = "sticker"
	KindLocation MessageKind = "location"
	KindContact  MessageKind = "contact"
	KindUnknown  MessageKind = "unknown"
)

// Media is the extracted media payload of a message. DataURI is always
// self-contained; DirectURL is a short-lived protocol reference that
// consumers may prefer over embedding, when the protocol exposed one.
type Media struct {
	DataURI   string `json:"dataUri,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	DirectURL string `json:"directUrl,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

// NormalizedMessage is the uniform record produced from a raw protocol
// envelope. It is ephemeral: built per inbound event and handed to the
// webhook stage, never persisted here.
type NormalizedMessage struct {
	SessionID  string      `json:"sessionId"`
	MessageID  string      `json:"messageId"`
	From       string      `json:"from"`    // best-effort corrected identifier
	RawFrom    string      `json:"rawFrom"` // identifier exactly as the protocol supplied it
	FromMe     bool        `json:"fromMe"`
	Kind       MessageKind `json:"kind"`
	Body       string      `json:"body,omitempty"`
	Media      *Media      `json:"media,omitempty"`
	SenderName string      `json:"senderName,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}
