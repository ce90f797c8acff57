// Package media turns uploaded image bytes into the payload sent to a
// vision model.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/image/draw"

	_ "image/gif"  // Register GIF decoder
	_ "image/png"  // Register PNG decoder

	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	MIMETypeJPEG = "image/jpeg"
	MIMETypePNG  = "image/png"
	MIMETypeGIF  = "image/gif"
	MIMETypeWebP = "image/webp"
)

// MaxImageBytes bounds how much of an upload is read.
const MaxImageBytes = 20 * 1024 * 1024

// MaxImagePixels bounds the decoded size of an upload, width times height.
const MaxImagePixels = 40_000_000

const jpegQuality = 85

var (
	ErrNoFile            = errors.New("no file uploaded")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image too large")
)

// Payload is a MIME-tagged image ready for a model call.
type Payload struct {
	MimeType string
	Data     []byte
}

func (p Payload) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// DataURL renders the payload as a data: URL, as used by OpenAI-style APIs.
func (p Payload) DataURL() string {
	return "data:" + p.MimeType + ";base64," + p.Base64()
}

// Encoder validates uploads and downsizes images whose longest side exceeds
// maxDimension. A maxDimension of 0 passes images through unchanged.
type Encoder struct {
	maxDimension int
}

func NewEncoder(maxDimension int) *Encoder {
	return &Encoder{maxDimension: maxDimension}
}

// ToPayload reads r fully and returns the image payload. A nil reader or an
// empty upload yields ErrNoFile.
func (e *Encoder) ToPayload(r io.Reader) (Payload, error) {
	if r == nil {
		return Payload{}, ErrNoFile
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return Payload{}, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return Payload{}, ErrNoFile
	}
	if len(data) > MaxImageBytes {
		return Payload{}, ErrTooLarge
	}

	mimeType, ok := DetectMIME(data)
	if !ok {
		return Payload{}, ErrUnsupportedFormat
	}

	payload := Payload{MimeType: mimeType, Data: data}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// The model gets the chance to reject it instead.
		slog.Debug("image header not decodable, sending as is", "mime_type", mimeType, "error", err)
		return payload, nil
	}
	// Compressed size says little about the decoded bitmap.
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return Payload{}, ErrTooLarge
	}
	if e.maxDimension <= 0 || (cfg.Width <= e.maxDimension && cfg.Height <= e.maxDimension) {
		return payload, nil
	}

	resized, err := e.downscale(data)
	if err != nil {
		return Payload{}, err
	}
	slog.Debug("image downscaled",
		"from_width", cfg.Width, "from_height", cfg.Height,
		"bytes_before", len(data), "bytes_after", len(resized))
	return Payload{MimeType: MIMETypeJPEG, Data: resized}, nil
}

func (e *Encoder) downscale(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	w, h := fitWithin(src.Bounds().Dx(), src.Bounds().Dy(), e.maxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin scales (w, h) so the longer side equals limit, keeping the
// aspect ratio and never returning a zero side.
func fitWithin(w, h, limit int) (int, int) {
	if w >= h {
		nh := h * limit / w
		return limit, max(nh, 1)
	}
	nw := w * limit / h
	return max(nw, 1), limit
}

// DetectMIME returns the MIME type and true if data is an accepted image
// format. net/http.DetectContentType covers JPEG, PNG and GIF; WebP is
// checked separately because the stdlib sniffer has no WebP signature.
func DetectMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return MIMETypeWebP, true
	}
	switch mime := http.DetectContentType(data); mime {
	case MIMETypeJPEG, MIMETypePNG, MIMETypeGIF:
		return mime, true
	default:
		return "", false
	}
}

// isWebP reports whether data is a RIFF container with "WEBP" at offset 8.
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}
