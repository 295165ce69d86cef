// Package auth renders session linking QR codes.
package auth

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/skip2/go-qrcode"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// DefaultPNGSize is the edge length of exported QR images in pixels.
const DefaultPNGSize = 256

var ErrEmptyQR = errors.New("qr payload is empty")

// QRRenderer displays the QR payload of a session waiting to be linked.
type QRRenderer struct {
	out io.Writer
	log waLog.Logger
}

// NewQRRenderer creates a QRRenderer that prints to out.
func NewQRRenderer(out io.Writer, log waLog.Logger) *QRRenderer {
	if out == nil {
		out = os.Stdout
	}
	return &QRRenderer{out: out, log: log.Sub("QR")}
}

func encode(code string) (*qrcode.QRCode, error) {
	if code == "" {
		return nil, ErrEmptyQR
	}
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}
	return qr, nil
}

// Terminal returns the QR code as half-block text.
func Terminal(code string) (string, error) {
	qr, err := encode(code)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

// PNG returns the QR code as a PNG image.
func PNG(code string, size int) ([]byte, error) {
	qr, err := encode(code)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultPNGSize
	}
	png, err := qr.PNG(size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR image: %w", err)
	}
	return png, nil
}

// Print shows code with scan instructions. When the payload cannot be
// encoded the raw content is printed instead.
func (r *QRRenderer) Print(code string) {
	text, err := Terminal(code)
	if err != nil {
		r.log.Errorf("Failed to render QR code: %v", err)
		fmt.Fprintln(r.out, "QR Code content:", code)
		return
	}
	fmt.Fprintln(r.out, "Scan the QR code below with WhatsApp (Linked Devices)")
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, text)
}

// Countdown shows the seconds left before the QR is fetched.
func (r *QRRenderer) Countdown(secs int) {
	if secs > 0 {
		fmt.Fprintf(r.out, "\rPreparing QR code in %ds...", secs)
	} else {
		fmt.Fprint(r.out, "\r\033[K")
	}
}

// SaveToFile writes code as a PNG file.
func (r *QRRenderer) SaveToFile(code, path string) error {
	png, err := PNG(code, DefaultPNGSize)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, png, 0644); err != nil {
		return fmt.Errorf("failed to save QR code: %w", err)
	}
	r.log.Infof("QR code saved to %s", path)
	return nil
}

// ClearScreen clears the terminal.
func ClearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[H\033[2J")
}
