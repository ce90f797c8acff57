// Package session tracks one user's identification result, its spoken audio
// and the follow-up chat, and decides what has to be thrown away when the
// user changes the image, the input mode or the language.
//
// A Session is not safe for concurrent use. Each method runs to completion,
// including any model or speech call it makes, before the next one may start.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/vbonduro/medlens/internal/domain"
	"github.com/vbonduro/medlens/internal/media"
	"github.com/vbonduro/medlens/internal/model"
	"github.com/vbonduro/medlens/internal/speech"
)

var (
	// ErrMissingInput is returned when identification is requested without
	// an image.
	ErrMissingInput = errors.New("no image provided, please upload or scan an image")

	ErrEmptyQuestion = errors.New("question is empty")

	// ErrNoResult is returned by chat calls made before anything was identified.
	ErrNoResult = errors.New("no medicine has been identified yet")

	// ErrBusy is returned while a model or speech call is still running.
	ErrBusy = errors.New("a request is already in progress")

	// ErrEmptyAnswer means the model replied with nothing speakable.
	ErrEmptyAnswer = errors.New("model returned an empty answer")
)

// CollaboratorError wraps a failure reported by the model or the speech
// synthesizer. The session state reflects that the operation did not happen.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// State is derived from the session fields; it is never stored.
type State int

const (
	// Empty has no result.
	Empty State = iota
	// Identified has a result but no audio yet.
	Identified
	// Ready has a result and its audio, and no chat so far.
	Ready
	// Chatting has at least one answered follow-up question.
	Chatting
)

func (s State) String() string {
	switch s {
	case Identified:
		return "identified"
	case Ready:
		return "ready"
	case Chatting:
		return "chatting"
	default:
		return "empty"
	}
}

// Session holds the result, audio and chat for one image in one language.
type Session struct {
	model  model.Client
	speech speech.Synthesizer
	logger *slog.Logger

	result   *string
	audio    speech.Handle
	autoplay bool
	history  []domain.ChatTurn
	pending  string
	busy     bool

	language domain.Language
	mode     domain.InputMode
}

// New returns an empty session. A nil logger falls back to slog.Default.
func New(mc model.Client, synth speech.Synthesizer, lang domain.Language, mode domain.InputMode, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		model:    mc,
		speech:   synth,
		logger:   logger,
		language: lang,
		mode:     mode,
	}
}

func (s *Session) State() State {
	switch {
	case s.result == nil:
		return Empty
	case s.audio == "":
		return Identified
	case len(s.history) == 0:
		return Ready
	default:
		return Chatting
	}
}

// Result returns the identification result, if any.
func (s *Session) Result() (string, bool) {
	if s.result == nil {
		return "", false
	}
	return *s.result, true
}

// Audio returns the handle of the live audio artifact, if any.
func (s *Session) Audio() (speech.Handle, bool) {
	return s.audio, s.audio != ""
}

// History returns a copy of the chat transcript, oldest first.
func (s *Session) History() []domain.ChatTurn {
	out := make([]domain.ChatTurn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) Language() domain.Language   { return s.language }
func (s *Session) InputMode() domain.InputMode { return s.mode }
func (s *Session) Pending() string             { return s.pending }

// TakeAutoplay reports whether the current audio has not been played yet and
// marks it as played.
func (s *Session) TakeAutoplay() bool {
	play := s.autoplay && s.audio != ""
	s.autoplay = false
	return play
}

// SetInputMode switches between upload and capture. A different mode clears
// everything derived from the previous image. It reports whether anything
// changed.
func (s *Session) SetInputMode(ctx context.Context, m domain.InputMode) bool {
	if m == s.mode {
		return false
	}
	s.invalidate(ctx)
	s.mode = m
	return true
}

// SetLanguage switches the response language. A different language clears
// the result, audio and chat. It reports whether anything changed.
func (s *Session) SetLanguage(ctx context.Context, lang domain.Language) bool {
	if lang == s.language {
		return false
	}
	s.invalidate(ctx)
	s.language = lang
	return true
}

// ClearImage handles the user removing the image. It reports whether there
// was anything to clear.
func (s *Session) ClearImage(ctx context.Context) bool {
	if s.result == nil && s.audio == "" && len(s.history) == 0 && s.pending == "" {
		return false
	}
	s.invalidate(ctx)
	return true
}

// RequestIdentification asks the model about img. Any live audio is released
// first and the previous result is dropped. A nil img fails with
// ErrMissingInput without calling the model. On success the result replaces
// the previous one and the chat about the previous result is discarded.
// An answer that cleans down to nothing fails with ErrEmptyAnswer and leaves
// the session Empty.
func (s *Session) RequestIdentification(ctx context.Context, img *media.Payload, prompt string) error {
	if s.busy {
		return ErrBusy
	}

	s.releaseAudio(ctx)
	s.result = nil

	if img == nil {
		return ErrMissingInput
	}

	s.busy = true
	text, err := s.model.Identify(ctx, *img, prompt)
	s.busy = false
	if err != nil {
		return &CollaboratorError{Op: "identify", Err: err}
	}

	text = Clean(text, s.language)
	if text == "" {
		return &CollaboratorError{Op: "identify", Err: ErrEmptyAnswer}
	}
	s.result = &text
	s.history = nil
	s.pending = ""
	return nil
}

// SynthesizeAudio speaks the current result in the session language. The
// previous artifact is released before the new one is requested; on failure
// the session keeps its result without audio.
func (s *Session) SynthesizeAudio(ctx context.Context) error {
	if s.busy {
		return ErrBusy
	}
	if s.result == nil {
		return ErrNoResult
	}

	s.releaseAudio(ctx)

	s.busy = true
	h, err := s.speech.Synthesize(ctx, *s.result, s.language.Code)
	s.busy = false
	if err != nil {
		return &CollaboratorError{Op: "synthesize", Err: err}
	}

	s.audio = h
	s.autoplay = true
	return nil
}

// SendChat asks a follow-up question about the current result. Blank
// questions return ErrEmptyQuestion and change nothing. A failed model call
// leaves the transcript as it was.
func (s *Session) SendChat(ctx context.Context, text string) error {
	question := strings.TrimSpace(text)
	if question == "" {
		return ErrEmptyQuestion
	}
	if s.busy {
		return ErrBusy
	}
	if s.result == nil {
		return ErrNoResult
	}

	s.history = append(s.history, domain.UserTurn(question))

	s.busy = true
	answer, err := s.model.Chat(ctx, model.ChatPrompt(*s.result, question, s.language))
	s.busy = false
	if err != nil {
		s.history = s.history[:len(s.history)-1]
		return &CollaboratorError{Op: "chat", Err: err}
	}

	s.history = append(s.history, domain.AssistantTurn(answer))
	return nil
}

// StageInput buffers a chat message until SendPending.
func (s *Session) StageInput(text string) {
	s.pending = text
}

// SendPending flushes the staged message through SendChat.
func (s *Session) SendPending(ctx context.Context) error {
	text := s.pending
	s.pending = ""
	return s.SendChat(ctx, text)
}

// Close releases the audio artifact and forgets all results. The mode and
// language are kept.
func (s *Session) Close(ctx context.Context) {
	s.invalidate(ctx)
}

// invalidate releases audio before clearing the text state so there is never
// audio without a result.
func (s *Session) invalidate(ctx context.Context) {
	s.releaseAudio(ctx)
	s.result = nil
	s.history = nil
	s.pending = ""
}

func (s *Session) releaseAudio(ctx context.Context) {
	if s.audio == "" {
		return
	}
	if err := s.speech.Release(ctx, s.audio); err != nil {
		s.logger.Warn("failed to release audio", "handle", string(s.audio), "error", err)
	}
	s.audio = ""
	s.autoplay = false
}
