package wa

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"zapgate/internal/corrector"
	"zapgate/internal/domain"
	"zapgate/internal/metrics"
)

// Kind-specific MIME defaults, used when the protocol reports no hint.
const (
	defaultVoiceMime    = "audio/ogg; codecs=opus"
	defaultImageMime    = "image/jpeg"
	defaultVideoMime    = "video/mp4"
	defaultStickerMime  = "image/webp"
	defaultDocumentMime = "application/octet-stream"
)

// Classify picks the content kind of a raw envelope by inspecting which
// payload field is present, in fixed priority order. Payloads that match
// nothing are KindUnknown, never dropped.
func Classify(msg *waE2E.Message) domain.MessageKind {
	switch {
	case msg == nil:
		return domain.KindUnknown
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage().GetText() != "":
		return domain.KindText
	case msg.GetImageMessage() != nil:
		return domain.KindImage
	case msg.GetVideoMessage() != nil:
		return domain.KindVideo
	case msg.GetAudioMessage() != nil:
		return domain.KindAudio
	case msg.GetDocumentMessage() != nil:
		return domain.KindDocument
	case msg.GetStickerMessage() != nil:
		return domain.KindSticker
	case msg.GetLocationMessage() != nil:
		return domain.KindLocation
	case msg.GetContactMessage() != nil:
		return domain.KindContact
	default:
		return domain.KindUnknown
	}
}

// Body extracts the text content for a classified envelope: the message
// text for text kinds, the caption for media kinds, and a readable fallback
// for locations and contacts.
func Body(msg *waE2E.Message, kind domain.MessageKind) string {
	switch kind {
	case domain.KindText:
		if t := msg.GetConversation(); t != "" {
			return t
		}
		return msg.GetExtendedTextMessage().GetText()
	case domain.KindImage:
		return msg.GetImageMessage().GetCaption()
	case domain.KindVideo:
		return msg.GetVideoMessage().GetCaption()
	case domain.KindDocument:
		if c := msg.GetDocumentMessage().GetCaption(); c != "" {
			return c
		}
		return msg.GetDocumentMessage().GetFileName()
	case domain.KindLocation:
		loc := msg.GetLocationMessage()
		if loc.GetName() != "" {
			return loc.GetName()
		}
		return fmt.Sprintf("%.6f,%.6f", loc.GetDegreesLatitude(), loc.GetDegreesLongitude())
	case domain.KindContact:
		return msg.GetContactMessage().GetDisplayName()
	default:
		return ""
	}
}

// MimeFor resolves the MIME type for a media payload: the protocol hint
// when present, else the kind default.
func MimeFor(kind domain.MessageKind, hint string) string {
	if hint != "" {
		return hint
	}
	switch kind {
	case domain.KindAudio:
		return defaultVoiceMime
	case domain.KindImage:
		return defaultImageMime
	case domain.KindVideo:
		return defaultVideoMime
	case domain.KindSticker:
		return defaultStickerMime
	default:
		return defaultDocumentMime
	}
}

// DataURI builds a self-contained data URI from a MIME type and payload.
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// normalize converts a raw protocol envelope into the uniform record the
// webhook stage consumes. A media extraction failure never drops the
// message; it is forwarded with text fields populated and media omitted.
func (c *liveConn) normalize(evt *events.Message) *domain.NormalizedMessage {
	res := corrector.Correct(evt.Info.Sender.String())
	if res.Repaired() {
		metrics.IdentifiersCorrected.Inc()
	} else {
		metrics.IdentifiersUncorrected.Inc()
		c.logger.Warn("identifier left uncorrected", "session", c.sessionID, "raw", res.Raw)
	}

	kind := Classify(evt.Message)
	msg := &domain.NormalizedMessage{
		SessionID:  c.sessionID,
		MessageID:  evt.Info.ID,
		From:       res.Corrected,
		RawFrom:    res.Raw,
		FromMe:     evt.Info.IsFromMe,
		Kind:       kind,
		Body:       Body(evt.Message, kind),
		SenderName: evt.Info.PushName,
		Timestamp:  evt.Info.Timestamp,
	}

	media, err := c.extractMedia(evt.Message, kind)
	if err != nil {
		metrics.MediaFailures.Inc()
		c.logger.Warn("forwarding message without media",
			"session", c.sessionID, "message", msg.MessageID, "kind", kind, "err", err)
	} else {
		msg.Media = media
	}
	return msg
}

// extractMedia downloads and reassembles the encrypted content stream of a
// media kind into an embeddable data URI, plus the short-lived direct URL
// where the protocol exposes one. Non-media kinds return (nil, nil).
func (c *liveConn) extractMedia(msg *waE2E.Message, kind domain.MessageKind) (*domain.Media, error) {
	var (
		dl        whatsmeow.DownloadableMessage
		hint      string
		directURL string
		fileName  string
	)
	switch kind {
	case domain.KindImage:
		im := msg.GetImageMessage()
		dl, hint, directURL = im, im.GetMimetype(), im.GetURL()
	case domain.KindVideo:
		vm := msg.GetVideoMessage()
		dl, hint, directURL = vm, vm.GetMimetype(), vm.GetURL()
	case domain.KindAudio:
		am := msg.GetAudioMessage()
		dl, hint, directURL = am, am.GetMimetype(), am.GetURL()
	case domain.KindDocument:
		dm := msg.GetDocumentMessage()
		dl, hint, directURL = dm, dm.GetMimetype(), dm.GetURL()
		fileName = dm.GetFileName()
	case domain.KindSticker:
		sm := msg.GetStickerMessage()
		dl, hint, directURL = sm, sm.GetMimetype(), sm.GetURL()
	default:
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	data, err := c.client.Download(ctx, dl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaExtraction, err)
	}

	mime := MimeFor(kind, hint)
	return &domain.Media{
		DataURI:   DataURI(mime, data),
		MimeType:  mime,
		DirectURL: directURL,
		FileName:  fileName,
	}, nil
}
