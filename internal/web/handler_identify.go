package web

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/vbonduro/medlens/internal/media"
	"github.com/vbonduro/medlens/internal/service"
	"github.com/vbonduro/medlens/internal/session"
)

// maxUploadSize leaves room for the multipart envelope around the image.
const maxUploadSize = media.MaxImageBytes + 1<<20

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var image io.Reader
	if err := r.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("image")
	switch {
	case err == nil:
		defer closeWithLog(file, "upload file", s.logger)
		image = file
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// Reaches the session as a missing image.
	default:
		http.Error(w, "failed to read image", http.StatusBadRequest)
		return
	}

	id := s.sessionID(w, r)
	// Detached so the session finishes its transition even if the client
	// goes away mid-request.
	err = s.service.Identify(context.WithoutCancel(r.Context()), id, image)
	s.respond(w, r, id, err)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	err := s.service.Chat(context.WithoutCancel(r.Context()), id, r.FormValue("question"))
	if errors.Is(err, session.ErrEmptyQuestion) {
		err = nil
	}
	s.respond(w, r, id, err)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	rc, err := s.service.OpenAudio(r.Context(), id)
	if errors.Is(err, service.ErrNoAudio) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "failed to open audio", http.StatusInternalServerError)
		s.logger.Error("open audio failed", "session_id", id, "error", err)
		return
	}
	defer closeWithLog(rc, "audio reader", s.logger)

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Error("write audio failed", "session_id", id, "error", err)
	}
}
