package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/vbonduro/medlens/internal/media"
	"github.com/vbonduro/medlens/internal/service"
	"github.com/vbonduro/medlens/internal/session"
)

const sessionCookie = "medlens_session"

// userErrors maps error codes carried in the page URL to the text shown to
// the user. Only codes from this table are ever rendered.
var userErrors = map[string]string{
	"missing_image":      "No image provided. Please upload or scan an image.",
	"unsupported_format": "Unsupported image format. Please use a JPG, PNG or WebP image.",
	"too_large":          "The image is too large.",
	"identify_failed":    "The medicine could not be identified. Please try again.",
	"audio_failed":       "The description is ready but audio could not be generated.",
	"chat_failed":        "The question could not be answered. Please try again.",
	"no_result":          "Identify a medicine before asking questions.",
	"busy":               "Another request is still running.",
	"bad_request":        "The request was not understood.",
	"internal":           "Something went wrong.",
}

// classify maps an error to an HTTP status and a user error code.
func classify(err error) (int, string) {
	var collabErr *session.CollaboratorError
	switch {
	case errors.Is(err, session.ErrMissingInput):
		return http.StatusBadRequest, "missing_image"
	case errors.Is(err, media.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, session.ErrNoResult):
		return http.StatusConflict, "no_result"
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, "internal"
	case errors.As(err, &collabErr):
		switch collabErr.Op {
		case "synthesize":
			return http.StatusBadGateway, "audio_failed"
		case "chat":
			return http.StatusBadGateway, "chat_failed"
		default:
			return http.StatusBadGateway, "identify_failed"
		}
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// sessionID returns the caller's session id, starting a new session and
// setting the cookie when there is none or it has expired.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && s.service.Exists(c.Value) {
		return c.Value
	}
	id := s.service.Start(r.Context())
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

type sessionResponse struct {
	Session *service.View `json:"session"`
	Error   string        `json:"error,omitempty"`
}

// respond finishes a state-changing request. Browsers are redirected back to
// the page; JSON clients get the session view and the error, if any.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, id string, err error) {
	status, code := http.StatusOK, ""
	if err != nil {
		status, code = classify(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("request failed", "session_id", id, "path", r.URL.Path, "error", err)
		}
	}

	if !wantsJSON(r) {
		target := "/"
		if code != "" {
			target += "?" + url.Values{"error": {code}}.Encode()
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	// View takes the autoplay flag, so a JSON client sees it once, as the page does.
	view, viewErr := s.service.View(r.Context(), id)
	if viewErr != nil {
		s.logger.Error("failed to load session view", "session_id", id, "error", viewErr)
	}
	resp := sessionResponse{Session: view}
	if code != "" {
		resp.Error = userErrors[code]
	}
	writeJSON(w, status, resp, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to write json response", "error", err)
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
