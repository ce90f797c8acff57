package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/medlens/internal/db"
	"github.com/vbonduro/medlens/internal/domain"
	"github.com/vbonduro/medlens/internal/media"
	"github.com/vbonduro/medlens/internal/service"
	"github.com/vbonduro/medlens/internal/speech"
	"github.com/vbonduro/medlens/internal/store"
	"github.com/vbonduro/medlens/internal/web"
	"github.com/vbonduro/medlens/internal/web/templates"
)

// minimalJPEG is 512 bytes with the JPEG magic bytes header followed by zeros.
// http.DetectContentType identifies JPEG from the leading 0xFF 0xD8 bytes.
var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

// recordingModel captures the image bytes passed to it and returns canned
// answers.
type recordingModel struct {
	mu        sync.Mutex
	lastBytes []byte
	result    string
	answer    string
	chatErr   error
}

func (m *recordingModel) Name() string { return "recording" }

func (m *recordingModel) Identify(_ context.Context, img media.Payload, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBytes = img.Data
	return m.result, nil
}

func (m *recordingModel) Chat(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answer, m.chatErr
}

func (m *recordingModel) FailChat(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatErr = err
}

func (m *recordingModel) LastBytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBytes
}

// memSpeech keeps synthesized "audio" in memory.
type memSpeech struct {
	mu   sync.Mutex
	n    int
	live map[speech.Handle][]byte
}

func newMemSpeech() *memSpeech {
	return &memSpeech{live: make(map[speech.Handle][]byte)}
}

func (s *memSpeech) Name() string { return "mem" }

func (s *memSpeech) Synthesize(_ context.Context, text, lang string) (speech.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	h := speech.Handle(fmt.Sprintf("%s_%d", lang, s.n))
	s.live[h] = []byte("ID3" + text)
	return h, nil
}

func (s *memSpeech) Release(_ context.Context, h speech.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, h)
	return nil
}

func (s *memSpeech) Open(_ context.Context, h speech.Handle) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.live[h]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memSpeech) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

type testEnv struct {
	srv    *httptest.Server
	client *http.Client
	model  *recordingModel
	speech *memSpeech
}

// newTestEnv sets up a real web.Server backed by in-memory SQLite and stub
// collaborators. The client keeps cookies and does not follow redirects.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.OpenForTesting()
	require.NoError(t, err)

	env := &testEnv{
		model:  &recordingModel{result: "Paracetamol relieves pain", answer: "Up to four times a day."},
		speech: newMemSpeech(),
	}
	svc := service.NewSessions(env.model, env.speech, media.NewEncoder(0), store.NewEventStore(database), domain.English, slog.Default())
	env.srv = httptest.NewServer(web.NewServer(svc, templates.FS, slog.Default()))

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	env.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	t.Cleanup(func() {
		env.srv.Close()
		_ = database.Close()
	})
	return env
}

type sessionBody struct {
	Session service.View `json:"session"`
	Error   string       `json:"error"`
}

func (e *testEnv) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values, asJSON bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if asJSON {
		req.Header.Set("Accept", "application/json")
	}
	return e.do(t, req)
}

func (e *testEnv) identify(t *testing.T, imageData []byte) *http.Response {
	t.Helper()
	body, contentType := buildMultipartBody(t, imageData)
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/session/identify", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	return e.do(t, req)
}

func (e *testEnv) state(t *testing.T) service.View {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/session", nil)
	require.NoError(t, err)
	return decodeSession(t, e.do(t, req)).Session
}

func decodeSession(t *testing.T, resp *http.Response) sessionBody {
	t.Helper()
	var body sessionBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

// buildMultipartBody creates a multipart/form-data body with an "image" field.
// A nil imageData produces a form without the field.
func buildMultipartBody(t *testing.T, imageData []byte) (body *bytes.Buffer, contentType string) {
	t.Helper()
	body = &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if imageData != nil {
		fw, err := w.CreateFormFile("image", "medicine.jpg")
		require.NoError(t, err)
		_, err = fw.Write(imageData)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestIntegration_IndexStartsSession(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/", nil)
	require.NoError(t, err)
	resp := env.do(t, req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "medlens")
	assert.Contains(t, string(body), `action="/session/identify"`)

	u, _ := url.Parse(env.srv.URL)
	assert.NotEmpty(t, env.client.Jar.Cookies(u))
}

func TestIntegration_IdentifyAndListen(t *testing.T) {
	env := newTestEnv(t)

	resp := env.identify(t, minimalJPEG)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeSession(t, resp)

	assert.Empty(t, body.Error)
	assert.Equal(t, "ready", body.Session.State)
	assert.Equal(t, "Paracetamol relieves pain", body.Session.Result)
	assert.True(t, body.Session.HasAudio)
	assert.Equal(t, minimalJPEG, env.model.LastBytes())

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/session/audio", nil)
	require.NoError(t, err)
	audio := env.do(t, req)
	require.Equal(t, http.StatusOK, audio.StatusCode)
	assert.Equal(t, "audio/mpeg", audio.Header.Get("Content-Type"))
	data, err := io.ReadAll(audio.Body)
	require.NoError(t, err)
	assert.Equal(t, "ID3Paracetamol relieves pain", string(data))
}

func TestIntegration_JSONAutoplayReportedOnce(t *testing.T) {
	env := newTestEnv(t)

	resp := env.identify(t, minimalJPEG)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeSession(t, resp).Session.Autoplay)

	again := env.state(t)
	assert.True(t, again.HasAudio)
	assert.False(t, again.Autoplay)
}

func TestIntegration_IdentifyWithoutImage(t *testing.T) {
	env := newTestEnv(t)

	resp := env.identify(t, nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeSession(t, resp)
	assert.Equal(t, "No image provided. Please upload or scan an image.", body.Error)
	assert.Equal(t, "empty", body.Session.State)
	assert.Nil(t, env.model.LastBytes())
}

func TestIntegration_IdentifyRejectsNonImage(t *testing.T) {
	env := newTestEnv(t)

	resp := env.identify(t, []byte("%PDF-1.4 not a medicine"))

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Nil(t, env.model.LastBytes())
}

func TestIntegration_LanguageChangeClearsResult(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.identify(t, minimalJPEG).StatusCode)
	require.Equal(t, 1, env.speech.Live())

	resp := env.postForm(t, "/session/language", url.Values{"language": {"Tamil"}}, false)

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))
	assert.Zero(t, env.speech.Live())
	v := env.state(t)
	assert.Equal(t, "empty", v.State)
	assert.Equal(t, "Tamil", v.Language)
}

func TestIntegration_InvalidLanguage(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postForm(t, "/session/language", url.Values{"language": {"Klingon"}}, false)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntegration_ModeChangeAndClear(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.identify(t, minimalJPEG).StatusCode)

	resp := env.postForm(t, "/session/mode", url.Values{"mode": {"capture"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decodeSession(t, resp).Session
	assert.Equal(t, "capture", v.InputMode)
	assert.Equal(t, "empty", v.State)

	require.Equal(t, http.StatusOK, env.identify(t, minimalJPEG).StatusCode)
	req, err := http.NewRequest(http.MethodDelete, env.srv.URL+"/session/image", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp = env.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "empty", decodeSession(t, resp).Session.State)
	assert.Zero(t, env.speech.Live())
}

func TestIntegration_Chat(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.identify(t, minimalJPEG).StatusCode)

	resp := env.postForm(t, "/session/chat", url.Values{"question": {"How often?"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decodeSession(t, resp).Session
	assert.Equal(t, "chatting", v.State)
	assert.Equal(t, []domain.ChatTurn{
		domain.UserTurn("How often?"),
		domain.AssistantTurn("Up to four times a day."),
	}, v.History)

	// Blank questions are ignored without an error.
	resp = env.postForm(t, "/session/chat", url.Values{"question": {"  "}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeSession(t, resp)
	assert.Empty(t, body.Error)
	assert.Len(t, body.Session.History, 2)
}

func TestIntegration_ChatBeforeIdentifyRedirectsWithError(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postForm(t, "/session/chat", url.Values{"question": {"What is it?"}}, false)

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/?error=no_result", resp.Header.Get("Location"))

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+resp.Header.Get("Location"), nil)
	require.NoError(t, err)
	page := env.do(t, req)
	body, err := io.ReadAll(page.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Identify a medicine before asking questions.")
}

func TestIntegration_ChatFailureReturnsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.identify(t, minimalJPEG).StatusCode)
	env.model.FailChat(errors.New("upstream timeout"))

	resp := env.postForm(t, "/session/chat", url.Values{"question": {"Dose?"}}, true)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Empty(t, decodeSession(t, resp).Session.History)
}

func TestIntegration_AudioMissing(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/session/audio", nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, env.do(t, req).StatusCode)
}

func TestIntegration_Events(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.identify(t, minimalJPEG).StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/session/events", nil)
	require.NoError(t, err)
	resp := env.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []domain.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{domain.EventStarted, domain.EventIdentified, domain.EventAudioReady}, kinds)
}

func TestIntegration_EndSession(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.identify(t, minimalJPEG).StatusCode)
	first := env.state(t).ID

	resp := env.postForm(t, "/session/end", nil, false)

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Zero(t, env.speech.Live())

	next := env.state(t)
	assert.NotEqual(t, first, next.ID)
	assert.Equal(t, "empty", next.State)
}

func TestIntegration_SessionsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.identify(t, minimalJPEG).StatusCode)

	other, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: other}
	resp, err := client.Get(env.srv.URL + "/session")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "empty", decodeSession(t, resp).Session.State)
}
