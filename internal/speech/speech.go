// Package speech converts text to playable audio artifacts.
package speech

import (
	"context"
	"errors"
	"io"
)

// Handle is an opaque reference to a synthesized audio artifact. The zero
// value means no audio.
type Handle string

var (
	// ErrEmptyText is returned when attempting to synthesize empty text.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrUnsupportedLanguage is returned for language codes the backend rejects.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Synthesizer produces one audio artifact per Synthesize call. Artifacts are
// never released automatically; the owner calls Release exactly once.
type Synthesizer interface {
	// Name returns the provider identifier (for logging).
	Name() string

	// Synthesize converts text spoken in languageCode (two-letter code) to audio.
	Synthesize(ctx context.Context, text, languageCode string) (Handle, error)

	// Release frees the artifact. Releasing an artifact that is already gone
	// is not an error.
	Release(ctx context.Context, h Handle) error

	// Open returns the artifact's mp3 bytes. The caller closes the reader.
	Open(ctx context.Context, h Handle) (io.ReadCloser, error)
}

// SynthesisError carries provider detail for a failed synthesis.
type SynthesisError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return e.Provider + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Provider + ": " + e.Message
}

func (e *SynthesisError) Unwrap() error {
	return e.Cause
}
