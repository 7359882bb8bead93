package main

import (
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
)

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		writeJSON(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), nil)
		return
	}

	dl, err := s.images.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer dl.Close()

	w.Header().Set("Content-Type", dl.ContentType)
	if dl.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	if _, err := io.Copy(w, dl); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("image_id", r.PathValue("id")).Msg("stream image")
	}
}
