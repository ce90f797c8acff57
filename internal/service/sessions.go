package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/medlens/internal/domain"
	"github.com/vbonduro/medlens/internal/logging"
	"github.com/vbonduro/medlens/internal/media"
	"github.com/vbonduro/medlens/internal/model"
	"github.com/vbonduro/medlens/internal/session"
	"github.com/vbonduro/medlens/internal/speech"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoAudio         = errors.New("no audio available")
)

// eventRepository is the subset of store.EventStore that Sessions requires.
type eventRepository interface {
	Record(ctx context.Context, sessionID, kind, detail string) (*domain.Event, error)
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Event, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}

// imageEncoder is the subset of media.Encoder that Sessions requires.
type imageEncoder interface {
	ToPayload(r io.Reader) (media.Payload, error)
}

type entry struct {
	mu     sync.Mutex
	sess   *session.Session
	closed bool

	// lastUsed is guarded by Sessions.mu.
	lastUsed time.Time
}

// Sessions keeps one session.Session per browser session. Calls on the same
// id are serialized; calls on different ids run independently.
type Sessions struct {
	mu      sync.Mutex
	entries map[string]*entry

	model    model.Client
	speech   speech.Synthesizer
	encoder  imageEncoder
	events   eventRepository
	language domain.Language
	logger   *slog.Logger

	purgeOnEnd  bool
	idleTimeout time.Duration
	now         func() time.Time
}

// Option configures Sessions.
type Option func(*Sessions)

// WithPurgeOnEnd drops a session's journal when the session ends. Used when
// the journal lives in memory and nothing could read it afterwards.
func WithPurgeOnEnd() Option {
	return func(s *Sessions) {
		s.purgeOnEnd = true
	}
}

// WithIdleTimeout ends sessions that have not been used for d. Eviction runs
// from Run. A zero d keeps sessions until they are ended explicitly.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Sessions) {
		s.idleTimeout = d
	}
}

func NewSessions(
	mc model.Client,
	synth speech.Synthesizer,
	encoder imageEncoder,
	events eventRepository,
	defaultLanguage domain.Language,
	logger *slog.Logger,
	opts ...Option,
) *Sessions {
	s := &Sessions{
		entries:  make(map[string]*entry),
		model:    mc,
		speech:   synth,
		encoder:  encoder,
		events:   events,
		language: defaultLanguage,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// View is a snapshot of a session for rendering.
type View struct {
	ID        string            `json:"id"`
	State     string            `json:"state"`
	InputMode string            `json:"input_mode"`
	Language  string            `json:"language"`
	Result    string            `json:"result,omitempty"`
	HasResult bool              `json:"has_result"`
	HasAudio  bool              `json:"has_audio"`
	Autoplay  bool              `json:"autoplay"`
	History   []domain.ChatTurn `json:"history"`
}

// Start creates a session with the default language in upload mode.
func (s *Sessions) Start(ctx context.Context) string {
	id := uuid.NewString()
	sess := session.New(s.model, s.speech, s.language, domain.Upload, logging.ForSession(s.logger, id))

	s.mu.Lock()
	s.entries[id] = &entry{sess: sess, lastUsed: s.now()}
	s.mu.Unlock()

	s.logger.Info("session started", "session_id", id, "language", s.language.Name)
	s.record(ctx, id, domain.EventStarted, s.language.Name)
	return id
}

// Exists reports whether id names a live session.
func (s *Sessions) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// View snapshots the session. Fresh audio is reported with Autoplay set
// exactly once.
func (s *Sessions) View(ctx context.Context, id string) (*View, error) {
	var v *View
	err := s.with(id, func(sess *session.Session) error {
		result, hasResult := sess.Result()
		_, hasAudio := sess.Audio()
		v = &View{
			ID:        id,
			State:     sess.State().String(),
			InputMode: sess.InputMode().String(),
			Language:  sess.Language().Name,
			Result:    result,
			HasResult: hasResult,
			HasAudio:  hasAudio,
			Autoplay:  sess.TakeAutoplay(),
			History:   sess.History(),
		}
		return nil
	})
	return v, err
}

func (s *Sessions) SetInputMode(ctx context.Context, id string, mode domain.InputMode) error {
	return s.with(id, func(sess *session.Session) error {
		if sess.SetInputMode(ctx, mode) {
			s.logger.Info("input mode changed", "session_id", id, "mode", mode.String())
			s.record(ctx, id, domain.EventModeChanged, mode.String())
		}
		return nil
	})
}

func (s *Sessions) SetLanguage(ctx context.Context, id string, lang domain.Language) error {
	return s.with(id, func(sess *session.Session) error {
		if sess.SetLanguage(ctx, lang) {
			s.logger.Info("language changed", "session_id", id, "language", lang.Name)
			s.record(ctx, id, domain.EventLanguageChanged, lang.Name)
		}
		return nil
	})
}

func (s *Sessions) ClearImage(ctx context.Context, id string) error {
	return s.with(id, func(sess *session.Session) error {
		if sess.ClearImage(ctx) {
			s.logger.Info("image cleared", "session_id", id)
			s.record(ctx, id, domain.EventImageCleared, "")
		}
		return nil
	})
}

// Identify encodes the uploaded image, asks the model about it and speaks the
// answer. An empty upload reaches the session as a missing image. A speech
// failure is returned after the result has been stored.
func (s *Sessions) Identify(ctx context.Context, id string, image io.Reader) error {
	var img *media.Payload
	payload, err := s.encoder.ToPayload(image)
	switch {
	case errors.Is(err, media.ErrNoFile):
	case err != nil:
		return fmt.Errorf("failed to encode image: %w", err)
	default:
		img = &payload
	}

	return s.with(id, func(sess *session.Session) error {
		s.logger.Info("identification started", "session_id", id, "model", s.model.Name(), "has_image", img != nil)
		if err := sess.RequestIdentification(ctx, img, model.IdentifyPrompt(sess.Language())); err != nil {
			s.logger.Warn("identification failed", "session_id", id, "error", err)
			s.record(ctx, id, domain.EventIdentifyFailed, err.Error())
			return err
		}
		result, _ := sess.Result()
		s.logger.Info("identification complete", "session_id", id, "chars", len(result))
		s.record(ctx, id, domain.EventIdentified, "")

		if err := sess.SynthesizeAudio(ctx); err != nil {
			s.logger.Warn("speech synthesis failed", "session_id", id, "error", err)
			s.record(ctx, id, domain.EventAudioFailed, err.Error())
			return err
		}
		h, _ := sess.Audio()
		s.logger.Debug("speech ready", "session_id", id, "handle", string(h))
		s.record(ctx, id, domain.EventAudioReady, sess.Language().Code)
		return nil
	})
}

// Chat stages the question and sends it. Blank questions return
// session.ErrEmptyQuestion.
func (s *Sessions) Chat(ctx context.Context, id, question string) error {
	return s.with(id, func(sess *session.Session) error {
		sess.StageInput(question)
		err := sess.SendPending(ctx)
		switch {
		case errors.Is(err, session.ErrEmptyQuestion):
			return err
		case err != nil:
			s.logger.Warn("chat failed", "session_id", id, "error", err)
			s.record(ctx, id, domain.EventChatFailed, err.Error())
			return err
		}
		s.logger.Info("chat answered", "session_id", id, "turns", len(sess.History()))
		s.record(ctx, id, domain.EventChat, "")
		return nil
	})
}

// OpenAudio opens the live audio artifact for playback. The caller must
// close the reader.
func (s *Sessions) OpenAudio(ctx context.Context, id string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := s.with(id, func(sess *session.Session) error {
		h, ok := sess.Audio()
		if !ok {
			return ErrNoAudio
		}
		var err error
		rc, err = s.speech.Open(ctx, h)
		if err != nil {
			return fmt.Errorf("failed to open audio: %w", err)
		}
		return nil
	})
	return rc, err
}

// Events returns the journal for a session, oldest first.
func (s *Sessions) Events(ctx context.Context, id string) ([]*domain.Event, error) {
	if !s.Exists(id) {
		return nil, ErrSessionNotFound
	}
	return s.events.ListBySession(ctx, id)
}

// End releases the session's audio and forgets it.
func (s *Sessions) End(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	e.sess.Close(ctx)
	e.closed = true
	e.mu.Unlock()

	s.logger.Info("session ended", "session_id", id)
	if s.purgeOnEnd {
		if err := s.events.DeleteBySession(ctx, id); err != nil {
			s.logger.Error("failed to purge session events", "session_id", id, "error", err)
		}
		return nil
	}
	s.record(ctx, id, domain.EventEnded, "")
	return nil
}

// Run evicts idle sessions every interval until ctx is done. It returns
// immediately when no idle timeout is configured.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if s.idleTimeout <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(ctx); n > 0 {
				s.logger.Info("idle sessions evicted", "count", n, "live", s.Len())
			}
		}
	}
}

// EvictIdle ends every session unused for longer than the idle timeout and
// returns how many it ended.
func (s *Sessions) EvictIdle(ctx context.Context) int {
	if s.idleTimeout <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.idleTimeout)

	s.mu.Lock()
	var idle []string
	for id, e := range s.entries {
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, id)
		}
	}
	s.mu.Unlock()

	evicted := 0
	for _, id := range idle {
		// Used again since the scan.
		if !s.idleSince(id, cutoff) {
			continue
		}
		if err := s.End(ctx, id); err != nil {
			if !errors.Is(err, ErrSessionNotFound) {
				s.logger.Error("failed to evict session", "session_id", id, "error", err)
			}
			continue
		}
		s.logger.Debug("session evicted", "session_id", id)
		evicted++
	}
	return evicted
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Sessions) idleSince(id string, cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return ok && e.lastUsed.Before(cutoff)
}

// EndAll ends every live session. It is used on shutdown.
func (s *Sessions) EndAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.End(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			s.logger.Error("failed to end session", "session_id", id, "error", err)
		}
	}
}

func (s *Sessions) with(id string, fn func(*session.Session) error) error {
	e, ok := s.touch(id)
	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Lost a race with End.
	if e.closed {
		return ErrSessionNotFound
	}
	defer s.touch(id)
	return fn(e.sess)
}

// touch marks the session as used and returns its entry.
func (s *Sessions) touch(id string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if ok {
		e.lastUsed = s.now()
	}
	return e, ok
}

// record writes to the journal. Journal failures are logged, never returned.
func (s *Sessions) record(ctx context.Context, id, kind, detail string) {
	if _, err := s.events.Record(ctx, id, kind, detail); err != nil {
		s.logger.Error("failed to record session event", "session_id", id, "kind", kind, "error", err)
	}
}
