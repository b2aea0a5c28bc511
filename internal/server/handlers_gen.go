package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vrac/internal/store"
)

type genPageData struct {
	Error   string
	Message string
}

func (s *Server) handleGenForm(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, http.StatusOK, "gen_form.html", genPageData{})
}

func (s *Server) handleGenCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderPage(w, r, http.StatusBadRequest, "gen_form.html", genPageData{Error: "invalid form submitted"})
		return
	}

	path := strings.TrimSpace(r.PostFormValue("path"))
	if path == "" || strings.Contains(path, "/") {
		s.renderPage(w, r, http.StatusBadRequest, "gen_form.html", genPageData{Error: "a path without slashes is required"})
		return
	}

	validForHours, err := strconv.Atoi(r.PostFormValue("token-valid-for-hour"))
	if err != nil || validForHours <= 0 {
		s.renderPage(w, r, http.StatusBadRequest, "gen_form.html", genPageData{Error: "link validity must be a positive number of hours"})
		return
	}
	if validForHours > s.cfg.Uploads.TokenMaxValidHours {
		validForHours = s.cfg.Uploads.TokenMaxValidHours
	}

	maxSizeMiB, err := optionalPositiveInt(r.PostFormValue("max-size-mib"))
	if err != nil {
		s.renderPage(w, r, http.StatusBadRequest, "gen_form.html", genPageData{Error: "max size must be a positive number of MiB"})
		return
	}
	expiresAfterHours, err := optionalPositiveInt(r.PostFormValue("content-expires"))
	if err != nil {
		s.renderPage(w, r, http.StatusBadRequest, "gen_form.html", genPageData{Error: "content expiry must be a positive number of hours"})
		return
	}

	now := s.now()
	_, err = s.ledger.CreateToken(r.Context(), store.CreateToken{
		Path:                     path,
		MaxSizeMiB:               maxSizeMiB,
		ValidUntil:               now.Add(time.Duration(validForHours) * time.Hour),
		ContentExpiresAfterHours: expiresAfterHours,
		BackendType:              s.cfg.Storage.Default,
	}, now)
	if errors.Is(err, store.ErrTokenExists) {
		s.renderPage(w, r, http.StatusConflict, "gen_form.html", genPageData{Error: "a valid token already exists for this path"})
		return
	}
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	s.renderPage(w, r, http.StatusOK, "gen_form.html", genPageData{
		Message: fmt.Sprintf("token created, share /f/%s", path),
	})
}

// optionalPositiveInt parses a form value that may be absent. The literal
// "None" also counts as absent, kept for old clients that submit it.
func optionalPositiveInt(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "None" {
		return nil, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		return nil, fmt.Errorf("invalid value %q", raw)
	}
	return &value, nil
}
