package wa

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// qrImageSize is the rendered QR PNG edge length in pixels.
const qrImageSize = 256

// QRDataURI renders a pairing code string as a scannable PNG data URI.
func QRDataURI(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
