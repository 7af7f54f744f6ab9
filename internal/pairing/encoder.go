// Package pairing renders pairing handshake payloads as scannable QR images.
package pairing

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	// DefaultSize is the PNG edge length in pixels.
	DefaultSize = 256

	// MaxPayloadLength keeps payloads within medium-recovery QR capacity.
	MaxPayloadLength = 2048
)

var ErrInvalidPayload = errors.New("invalid pairing payload")

// Encoder is stateless and safe for concurrent use.
type Encoder struct {
	size  int
	level qrcode.RecoveryLevel
}

func NewEncoder(size int) *Encoder {
	if size <= 0 {
		size = DefaultSize
	}
	return &Encoder{size: size, level: qrcode.Medium}
}

// Encode returns the payload as a PNG QR code.
func (e *Encoder) Encode(payload string) ([]byte, error) {
	if err := Validate(payload); err != nil {
		return nil, err
	}

	png, err := qrcode.Encode(payload, e.level, e.size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return png, nil
}

// DataURL returns the encoded image as a data: URL suitable for an <img> src.
func (e *Encoder) DataURL(payload string) (string, error) {
	png, err := e.Encode(payload)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func Validate(payload string) error {
	switch {
	case strings.TrimSpace(payload) == "":
		return fmt.Errorf("%w: empty", ErrInvalidPayload)
	case len(payload) > MaxPayloadLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidPayload, MaxPayloadLength)
	case !utf8.ValidString(payload):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidPayload)
	}
	return nil
}
