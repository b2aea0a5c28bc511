package server

import (
	"net/http"
	"net/url"
	"time"

	"vrac/internal/models"
)

type uploadFormData struct {
	ValidFor        string
	MaxSize         string
	ContentDuration string
}

type filesPageData struct {
	TokenPath string
	ExpiresAt string
	ExpiresIn string
	Files     []filesPageFile
}

type filesPageFile struct {
	ID   int64
	Name string
	Size string
}

// handleTokenPage branches on what the path holds right now: the upload
// form while the token is fresh, the file listing once it is used, and
// the shared not-found page otherwise.
func (s *Server) handleTokenPage(w http.ResponseWriter, r *http.Request) {
	path, ok := s.tokenPath(w, r)
	if !ok {
		return
	}

	now := s.now()
	tok, err := s.ledger.GetToken(r.Context(), path, now)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	switch models.Classify(tok, now) {
	case models.StateFresh:
		s.renderUploadForm(w, r, tok, now)
	case models.StateUsed:
		if r.URL.Query().Get("zip") != "" {
			s.serveFilesZip(w, r, tok)
			return
		}
		s.renderFilesPage(w, r, tok, now)
	default:
		s.renderNotFound(w, r)
	}
}

// handleUpload accepts the multipart POST for a fresh token and redirects
// back to the token page, which then shows either the uploaded files or
// the form again if nothing was sent.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	path, ok := s.tokenPath(w, r)
	if !ok {
		return
	}

	now := s.now()
	tok, err := s.ledger.GetToken(r.Context(), path, now)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if models.Classify(tok, now) != models.StateFresh {
		s.renderNotFound(w, r)
		return
	}

	var tokenMaxMiB int64
	if tok.MaxSizeMiB != nil {
		tokenMaxMiB = *tok.MaxSizeMiB
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytesFor(tokenMaxMiB))

	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := s.uploads.HandleUpload(r.Context(), tok, mr, now); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	http.Redirect(w, r, "/f/"+url.PathEscape(path), http.StatusSeeOther)
}

func (s *Server) renderUploadForm(w http.ResponseWriter, r *http.Request, tok *models.Token, now time.Time) {
	data := uploadFormData{
		ValidFor: formatDuration(tok.ValidUntil.Sub(now)),
	}
	if tok.MaxSizeMiB != nil {
		data.MaxSize = formatSizeMiB(*tok.MaxSizeMiB)
	}
	if tok.ContentExpiresAfterHours != nil {
		data.ContentDuration = formatDuration(time.Duration(*tok.ContentExpiresAfterHours) * time.Hour)
	}
	s.renderPage(w, r, http.StatusOK, "upload_form.html", data)
}

func (s *Server) renderFilesPage(w http.ResponseWriter, r *http.Request, tok *models.Token, now time.Time) {
	files, err := s.ledger.ListTokenFiles(r.Context(), tok)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	fileIDs := make([]int64, 0, len(files))
	for _, f := range files {
		fileIDs = append(fileIDs, f.ID)
	}
	metadata, err := s.ledger.ListFileMetadata(r.Context(), fileIDs)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	data := filesPageData{TokenPath: tok.Path}
	if tok.ContentExpiresAt != nil {
		data.ExpiresAt = tok.ContentExpiresAt.Local().Format("2006/01/02 15:04")
		data.ExpiresIn = formatDuration(tok.ContentExpiresAt.Sub(now))
	}
	for _, f := range files {
		entry := filesPageFile{ID: f.ID, Name: downloadName(&f)}
		if meta, ok := metadata[f.ID]; ok && meta.SizeB != nil {
			entry.Size = formatSizeBytes(*meta.SizeB)
		}
		data.Files = append(data.Files, entry)
	}

	s.renderPage(w, r, http.StatusOK, "files.html", data)
}

// tokenPath extracts and decodes the {path} segment.
func (s *Server) tokenPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.PathValue("path")
	path, err := url.PathUnescape(raw)
	if err != nil || path == "" {
		s.renderNotFound(w, r)
		return "", false
	}
	return path, true
}
