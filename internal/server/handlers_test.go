package server

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"vrac/internal/auth"
	"vrac/internal/blobstore"
	"vrac/internal/config"
	"vrac/internal/store"
)

func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "vrac.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	local, err := blobstore.NewLocalFS(filepath.Join(dir, "blobs"), nil)
	if err != nil {
		t.Fatalf("local backend: %v", err)
	}

	cfg := config.Default()
	return New(&cfg, st, st, blobstore.NewRegistry(local), nil), st
}

func addAdmin(t *testing.T, st *store.Store) {
	t.Helper()
	hash, err := auth.HashPassword("admin-secret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if _, err := st.CreateAccount(context.Background(), "admin", hash); err != nil {
		t.Fatalf("create account: %v", err)
	}
}

func createToken(t *testing.T, srv *Server, form string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/gen", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("admin", "admin-secret")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func multipartBody(t *testing.T, files map[string]string) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		hdr.Set("Content-Type", "text/plain")
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := io.WriteString(part, content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return mw.FormDataContentType(), &buf
}

func uploadFiles(t *testing.T, srv *Server, path string, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	contentType, body := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, "/f/"+path, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestGenRequiresAuth(t *testing.T) {
	srv, st := testServer(t)
	addAdmin(t, st)

	req := httptest.NewRequest(http.MethodGet, "/gen", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no credentials: status %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("WWW-Authenticate"), "Basic") {
		t.Errorf("missing basic auth challenge: %q", w.Header().Get("WWW-Authenticate"))
	}

	req = httptest.NewRequest(http.MethodGet, "/gen", nil)
	req.SetBasicAuth("admin", "wrong")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad credentials: status %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/gen", nil)
	req.SetBasicAuth("admin", "admin-secret")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("valid credentials: status %d", w.Code)
	}
}

func TestGenCreateConflict(t *testing.T) {
	srv, st := testServer(t)
	addAdmin(t, st)

	w := createToken(t, srv, "path=report&token-valid-for-hour=24")
	if w.Code != http.StatusOK {
		t.Fatalf("first creation: status %d, body %s", w.Code, w.Body.String())
	}

	w = createToken(t, srv, "path=report&token-valid-for-hour=24")
	if w.Code != http.StatusConflict {
		t.Fatalf("second creation: status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "already exists") {
		t.Errorf("body does not explain the conflict: %s", w.Body.String())
	}
}

func TestTokenPageLifecycle(t *testing.T) {
	srv, st := testServer(t)
	addAdmin(t, st)

	// Unknown path serves the shared not-found page.
	req := httptest.NewRequest(http.MethodGet, "/f/nothing", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown path: status %d", w.Code)
	}

	if w := createToken(t, srv, "path=report&token-valid-for-hour=24&max-size-mib=100&content-expires=48"); w.Code != http.StatusOK {
		t.Fatalf("create token: status %d", w.Code)
	}

	// Fresh token serves the upload form.
	req = httptest.NewRequest(http.MethodGet, "/f/report", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("fresh token page: status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "multipart/form-data") {
		t.Errorf("fresh token page is not the upload form: %s", w.Body.String())
	}

	if w := uploadFiles(t, srv, "report", map[string]string{"notes.txt": "some notes"}); w.Code != http.StatusSeeOther {
		t.Fatalf("upload: status %d, body %s", w.Code, w.Body.String())
	}

	// Used token serves the file listing.
	req = httptest.NewRequest(http.MethodGet, "/f/report", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("used token page: status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "notes.txt") {
		t.Errorf("file listing misses the upload: %s", w.Body.String())
	}

	// A second upload against the consumed token is rejected.
	if w := uploadFiles(t, srv, "report", map[string]string{"sneaky.txt": "late"}); w.Code != http.StatusNotFound {
		t.Fatalf("upload to used token: status %d", w.Code)
	}
}

func TestDownload(t *testing.T) {
	srv, st := testServer(t)
	addAdmin(t, st)

	if w := createToken(t, srv, "path=report&token-valid-for-hour=24"); w.Code != http.StatusOK {
		t.Fatalf("create token: status %d", w.Code)
	}
	if w := uploadFiles(t, srv, "report", map[string]string{"notes.txt": "some notes"}); w.Code != http.StatusSeeOther {
		t.Fatalf("upload: status %d", w.Code)
	}

	// Find the file id from the listing.
	req := httptest.NewRequest(http.MethodGet, "/f/report", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	m := regexp.MustCompile(`/f/report/(\d+)`).FindStringSubmatch(w.Body.String())
	if m == nil {
		t.Fatalf("no file link in listing: %s", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/f/report/"+m[1], nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("download: status %d", w.Code)
	}
	if w.Body.String() != "some notes" {
		t.Errorf("download body %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("content type %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "inline") || !strings.Contains(cd, "notes.txt") {
		t.Errorf("content disposition %q", cd)
	}

	req = httptest.NewRequest(http.MethodGet, "/f/report/"+m[1]+"?dl=1", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("dl content disposition %q", cd)
	}

	// Downloads die with the retention deadline.
	srv.now = func() time.Time { return time.Now().Add(49 * time.Hour) }
	req = httptest.NewRequest(http.MethodGet, "/f/report/"+m[1], nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("download after expiry: status %d", w.Code)
	}
}

func TestUploadWithoutBytesKeepsTokenFresh(t *testing.T) {
	srv, st := testServer(t)
	addAdmin(t, st)

	if w := createToken(t, srv, "path=report&token-valid-for-hour=24"); w.Code != http.StatusOK {
		t.Fatalf("create token: status %d", w.Code)
	}

	// Submitting the form without choosing a file sends one empty field.
	if w := uploadFiles(t, srv, "report", map[string]string{"": ""}); w.Code != http.StatusSeeOther {
		t.Fatalf("empty upload: status %d", w.Code)
	}

	// The token must still offer the upload form.
	req := httptest.NewRequest(http.MethodGet, "/f/report", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "multipart/form-data") {
		t.Fatalf("token was consumed by an empty upload: %s", w.Body.String())
	}

	// And a real upload afterwards still works.
	if w := uploadFiles(t, srv, "report", map[string]string{"real.txt": "content"}); w.Code != http.StatusSeeOther {
		t.Fatalf("second upload: status %d", w.Code)
	}
}

func TestUploadDiscardsEmptyFields(t *testing.T) {
	srv, st := testServer(t)
	addAdmin(t, st)

	if w := createToken(t, srv, "path=report&token-valid-for-hour=24"); w.Code != http.StatusOK {
		t.Fatalf("create token: status %d", w.Code)
	}
	if w := uploadFiles(t, srv, "report", map[string]string{"kept.txt": "data", "empty.txt": ""}); w.Code != http.StatusSeeOther {
		t.Fatalf("upload: status %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/f/report", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "kept.txt") {
		t.Errorf("kept file missing: %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "empty.txt") {
		t.Errorf("empty file was recorded: %s", w.Body.String())
	}
}

func TestZipDownload(t *testing.T) {
	srv, st := testServer(t)
	addAdmin(t, st)

	if w := createToken(t, srv, "path=report&token-valid-for-hour=24"); w.Code != http.StatusOK {
		t.Fatalf("create token: status %d", w.Code)
	}
	if w := uploadFiles(t, srv, "report", map[string]string{"a.txt": "aaa", "b.txt": "bbb"}); w.Code != http.StatusSeeOther {
		t.Fatalf("upload: status %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/f/report?zip=1", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("zip download: status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("content type %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "report.zip") {
		t.Errorf("content disposition %q", cd)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Error("response is not a zip archive")
	}
}

func TestRootRedirectsToGen(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusTemporaryRedirect || w.Header().Get("Location") != "/gen" {
		t.Fatalf("root: status %d location %q", w.Code, w.Header().Get("Location"))
	}
}
