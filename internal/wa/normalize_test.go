package wa

import (
	"strings"
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"zapgate/internal/domain"
)

func TestClassify_PriorityOrder(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want domain.MessageKind
	}{
		{"nil", nil, domain.KindUnknown},
		{"empty", &waE2E.Message{}, domain.KindUnknown},
		{"conversation", &waE2E.Message{Conversation: proto.String("hi")}, domain.KindText},
		{"extended text", &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")},
		}, domain.KindText},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, domain.KindImage},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, domain.KindVideo},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, domain.KindAudio},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, domain.KindDocument},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, domain.KindSticker},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, domain.KindLocation},
		{"contact", &waE2E.Message{ContactMessage: &waE2E.ContactMessage{}}, domain.KindContact},
		// Text wins over any media field.
		{"text beats image", &waE2E.Message{
			Conversation: proto.String("hi"),
			ImageMessage: &waE2E.ImageMessage{},
		}, domain.KindText},
		// Image wins over later media fields.
		{"image beats audio", &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{},
			AudioMessage: &waE2E.AudioMessage{},
		}, domain.KindImage},
	}
	for _, tt := range tests {
		if got := Classify(tt.msg); got != tt.want {
			t.Errorf("%s: Classify = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestBody_Captions(t *testing.T) {
	img := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}
	if got := Body(img, domain.KindImage); got != "look" {
		t.Errorf("image caption: got %q", got)
	}

	doc := &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{FileName: proto.String("report.pdf")}}
	if got := Body(doc, domain.KindDocument); got != "report.pdf" {
		t.Errorf("document fallback to filename: got %q", got)
	}

	loc := &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
		DegreesLatitude:  proto.Float64(-16.6869),
		DegreesLongitude: proto.Float64(-49.2648),
	}}
	if got := Body(loc, domain.KindLocation); !strings.Contains(got, "-16.686900") {
		t.Errorf("location coordinates: got %q", got)
	}
}

func TestMimeFor_HintWins(t *testing.T) {
	if got := MimeFor(domain.KindImage, "image/png"); got != "image/png" {
		t.Errorf("hint should win, got %q", got)
	}
}

func TestMimeFor_KindDefaults(t *testing.T) {
	tests := []struct {
		kind domain.MessageKind
		want string
	}{
		{domain.KindAudio, "audio/ogg; codecs=opus"},
		{domain.KindImage, "image/jpeg"},
		{domain.KindSticker, "image/webp"},
		{domain.KindDocument, "application/octet-stream"},
		{domain.KindVideo, "video/mp4"},
	}
	for _, tt := range tests {
		if got := MimeFor(tt.kind, ""); got != tt.want {
			t.Errorf("MimeFor(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestDataURI(t *testing.T) {
	uri := DataURI("image/jpeg", []byte{0xFF, 0xD8})
	if !strings.HasPrefix(uri, "data:image/jpeg;base64,") {
		t.Errorf("unexpected prefix: %s", uri)
	}
}

func TestQRDataURI(t *testing.T) {
	uri, err := QRDataURI("2@abcdef,ghijkl,mnopqr")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Errorf("unexpected prefix: %s", uri[:40])
	}
}
