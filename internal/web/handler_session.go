package web

import (
	"errors"
	"net/http"

	"github.com/vbonduro/medlens/internal/domain"
	"github.com/vbonduro/medlens/internal/service"
)

type pageData struct {
	Session   *service.View
	Languages []domain.Language
	Error     string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	view, err := s.service.View(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		s.logger.Error("view session failed", "session_id", id, "error", err)
		return
	}

	data := pageData{
		Session:   view,
		Languages: domain.Languages,
		Error:     userErrors[r.URL.Query().Get("error")],
	}
	if err := s.renderPage(w, data, "base.html", "index.html"); err != nil {
		s.logger.Error("render page failed", "error", err)
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	view, err := s.service.View(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		s.logger.Error("view session failed", "session_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: view}, s.logger)
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	mode, err := domain.ParseInputMode(r.FormValue("mode"))
	if err != nil {
		http.Error(w, "invalid input mode", http.StatusBadRequest)
		return
	}
	id := s.sessionID(w, r)
	s.respond(w, r, id, s.service.SetInputMode(r.Context(), id, mode))
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	lang, err := domain.ParseLanguage(r.FormValue("language"))
	if err != nil {
		http.Error(w, "invalid language", http.StatusBadRequest)
		return
	}
	id := s.sessionID(w, r)
	s.respond(w, r, id, s.service.SetLanguage(r.Context(), id, lang))
}

func (s *Server) handleClearImage(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	s.respond(w, r, id, s.service.ClearImage(r.Context(), id))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	events, err := s.service.Events(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		s.logger.Error("list events failed", "session_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, events, s.logger)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(sessionCookie)
	if err == nil {
		if err := s.service.End(r.Context(), c.Value); err != nil && !errors.Is(err, service.ErrSessionNotFound) {
			s.logger.Error("end session failed", "session_id", c.Value, "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]bool{"ended": true}, s.logger)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
