package server

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"vrac/internal/models"
)

// handleDownload streams one blob back out. Content is served inline
// unless dl is set, matching what the file listing links to.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path, ok := s.tokenPath(w, r)
	if !ok {
		return
	}
	fileID, err := strconv.ParseInt(r.PathValue("fileID"), 10, 64)
	if err != nil {
		s.renderNotFound(w, r)
		return
	}

	file, err := s.ledger.GetValidFile(r.Context(), path, fileID, s.now())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if file == nil {
		s.renderNotFound(w, r)
		return
	}

	backend, err := s.backends.Lookup(file.BackendType)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	blob, err := backend.OpenRead(r.Context(), file.BackendData)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	defer blob.Close()

	mimeType := "application/octet-stream"
	if file.MimeType != nil && *file.MimeType != "" {
		mimeType = *file.MimeType
	}
	disposition := "inline"
	if r.URL.Query().Get("dl") != "" {
		disposition = "attachment"
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, downloadName(file)))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, blob); err != nil {
		// The response already started, all that is left is the log line.
		s.log().Warn("blob download interrupted", "file_id", file.ID, "error", err)
	}
}

// serveFilesZip streams every file of a used token as one zip archive.
// Entries are stored with Deflate and written straight to the response,
// nothing is buffered server side.
func (s *Server) serveFilesZip(w http.ResponseWriter, r *http.Request, tok *models.Token) {
	files, err := s.ledger.ListTokenFiles(r.Context(), tok)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", tok.Path+".zip"))
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	for i := range files {
		file := &files[i]
		if err := s.writeZipEntry(r, zw, file); err != nil {
			s.log().Error("zip download interrupted", "file_id", file.ID, "error", err)
			return
		}
	}
	if err := zw.Close(); err != nil {
		s.log().Error("cannot finish zip download", "token_id", tok.ID, "error", err)
	}
}

func (s *Server) writeZipEntry(r *http.Request, zw *zip.Writer, file *models.File) error {
	backend, err := s.backends.Lookup(file.BackendType)
	if err != nil {
		return err
	}
	blob, err := backend.OpenRead(r.Context(), file.BackendData)
	if err != nil {
		return err
	}
	defer blob.Close()

	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     downloadName(file),
		Method:   zip.Deflate,
		Modified: file.CreatedAt,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, blob)
	return err
}

// downloadName picks the client-supplied filename, or a stable synthetic
// one when the upload did not carry a name.
func downloadName(file *models.File) string {
	if file.Name != nil && *file.Name != "" {
		return *file.Name
	}
	return fmt.Sprintf("%04d_%04d", file.TokenID, file.ID)
}
