package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vbonduro/medlens/internal/audiostore"
)

const (
	defaultGoogleTTSURL = "https://translate.google.com/translate_tts"

	defaultGoogleTimeout = 30 * time.Second

	// Same browser-less client id used by gTTS.
	googleClientID = "tw-ob"
)

// GoogleSynthesizer speaks text through the Google Translate TTS endpoint and
// keeps the resulting mp3 in an AudioStore.
type GoogleSynthesizer struct {
	baseURL string
	client  *http.Client
	store   audiostore.AudioStore
}

// GoogleOption configures the Google synthesizer.
type GoogleOption func(*GoogleSynthesizer)

// WithGoogleBaseURL sets a custom endpoint (for testing or proxies).
func WithGoogleBaseURL(u string) GoogleOption {
	return func(s *GoogleSynthesizer) {
		s.baseURL = u
	}
}

// WithGoogleClient sets a custom HTTP client.
func WithGoogleClient(c *http.Client) GoogleOption {
	return func(s *GoogleSynthesizer) {
		s.client = c
	}
}

func NewGoogleSynthesizer(store audiostore.AudioStore, opts ...GoogleOption) *GoogleSynthesizer {
	s := &GoogleSynthesizer{
		baseURL: defaultGoogleTTSURL,
		client:  &http.Client{Timeout: defaultGoogleTimeout},
		store:   store,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GoogleSynthesizer) Name() string {
	return "google-translate"
}

// Synthesize requests each chunk of text in order and concatenates the mp3
// streams into a single artifact.
func (s *GoogleSynthesizer) Synthesize(ctx context.Context, text, languageCode string) (Handle, error) {
	chunks := splitText(text, maxChunkRunes)
	if len(chunks) == 0 {
		return "", ErrEmptyText
	}

	var audio bytes.Buffer
	for i, chunk := range chunks {
		if err := s.fetchChunk(ctx, &audio, chunk, languageCode, i, len(chunks)); err != nil {
			return "", err
		}
	}

	key, err := s.store.Save(ctx, languageCode, &audio)
	if err != nil {
		return "", &SynthesisError{Provider: s.Name(), Message: "failed to store audio", Cause: err}
	}
	slog.Debug("speech synthesized", "language", languageCode, "chunks", len(chunks), "storage_key", key)
	return Handle(key), nil
}

func (s *GoogleSynthesizer) fetchChunk(ctx context.Context, w io.Writer, chunk, lang string, idx, total int) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", googleClientID)
	q.Set("tl", lang)
	q.Set("q", chunk)
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(len([]rune(chunk))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &SynthesisError{Provider: s.Name(), Message: "request failed", Cause: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close tts response body", "error", err)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return &SynthesisError{Provider: s.Name(), Message: fmt.Sprintf("language %q rejected", lang), Cause: ErrUnsupportedLanguage}
	case resp.StatusCode != http.StatusOK:
		return &SynthesisError{Provider: s.Name(), Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return &SynthesisError{Provider: s.Name(), Message: "failed to read audio", Cause: err}
	}
	return nil
}

func (s *GoogleSynthesizer) Release(ctx context.Context, h Handle) error {
	if h == "" {
		return nil
	}
	if err := s.store.Delete(ctx, string(h)); err != nil && !errors.Is(err, audiostore.ErrNotFound) {
		return fmt.Errorf("failed to release audio: %w", err)
	}
	return nil
}

func (s *GoogleSynthesizer) Open(ctx context.Context, h Handle) (io.ReadCloser, error) {
	return s.store.Open(ctx, string(h))
}
