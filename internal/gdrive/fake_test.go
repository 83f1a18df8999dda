package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testAccessToken = "test-access-token"

type fakeFile struct {
	id       string
	name     string
	mimeType string
	content  []byte
}

// fakeDrive is an in-memory stand-in for the Drive v3 REST surface the
// client uses: files.list, multipart and resumable files.create, ranged
// media get, files.delete and about.get. Routing goes by method and path suffix so the
// library's choice of URL prefix does not matter.
type fakeDrive struct {
	t *testing.T

	mu     sync.Mutex
	files  []*fakeFile
	nextID int

	// Fault injection.
	failNext       []int // statuses returned (in order) before normal handling
	ignorePageSize bool  // list returns every file
	ignoreRange    bool  // media get answers 200 with the whole body
	stopAt         int64 // media get returns empty chunks from this offset; 0 disables
	failMediaAt    int64 // media get returns 403 from this offset; 0 disables
	rangeAfter     int   // ignoreRange switches on after this many media gets; 0 disables
	failChunk      int   // resumable chunk with this 1-based index gets one 503; 0 disables

	requests    int
	rangeHeader []string
	lastUA      string
	lastUpload  struct{ name, contentType string }
	lastPageArg string
	mediaGets   int

	sessions     map[string]*uploadSession
	chunkCount   int
	chunkRanges  []string
	resumableUse int
}

// uploadSession is one resumable upload in progress.
type uploadSession struct {
	name        string
	contentType string
	buf         []byte
}

func newFakeDrive(t *testing.T) (*fakeDrive, *httptest.Server) {
	t.Helper()

	f := &fakeDrive{t: t}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	return f, srv
}

func (f *fakeDrive) add(name string, content []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.addLocked(name, "application/octet-stream", content).id
}

func (f *fakeDrive) addLocked(name, mimeType string, content []byte) *fakeFile {
	f.nextID++
	ff := &fakeFile{
		id:       fmt.Sprintf("file-%d", f.nextID),
		name:     name,
		mimeType: mimeType,
		content:  content,
	}
	f.files = append(f.files, ff)

	return ff
}

func (f *fakeDrive) find(id string) (int, *fakeFile) {
	for i, ff := range f.files {
		if ff.id == id {
			return i, ff
		}
	}

	return -1, nil
}

func (f *fakeDrive) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.requests
}

func (f *fakeDrive) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests++
	f.lastUA = r.Header.Get("User-Agent")

	if r.Header.Get("Authorization") != "Bearer "+testAccessToken {
		writeAPIError(w, http.StatusUnauthorized, "Invalid Credentials")
		return
	}

	if len(f.failNext) > 0 {
		status := f.failNext[0]
		f.failNext = f.failNext[1:]

		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "7")
		}

		writeAPIError(w, status, http.StatusText(status))

		return
	}

	path := r.URL.Path

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/about"):
		f.handleAbout(w)
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/files"):
		f.handleList(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/files"):
		f.handleCreate(w, r)
	case strings.Contains(path, "/files/"):
		id := path[strings.LastIndex(path, "/")+1:]

		switch r.Method {
		case http.MethodGet:
			f.handleMedia(w, r, id)
		case http.MethodDelete:
			f.handleDelete(w, id)
		default:
			writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	default:
		writeAPIError(w, http.StatusNotFound, "no route for "+r.Method+" "+path)
	}
}

func (f *fakeDrive) handleAbout(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"displayName":  "Alice Example",
			"emailAddress": "alice@example.com",
		},
		"storageQuota": map[string]any{
			"limit": "16106127360",
			"usage": "1048576",
		},
	})
}

func (f *fakeDrive) handleList(w http.ResponseWriter, r *http.Request) {
	f.lastPageArg = r.URL.Query().Get("pageSize")

	pageSize, err := strconv.Atoi(f.lastPageArg)
	if err != nil || pageSize <= 0 {
		pageSize = 100
	}

	files := f.files
	next := ""

	if !f.ignorePageSize && len(files) > pageSize {
		files = files[:pageSize]
		next = "page-2"
	}

	out := make([]map[string]any, 0, len(files))
	for _, ff := range files {
		out = append(out, map[string]any{"id": ff.id, "name": ff.name})
	}

	body := map[string]any{"files": out}
	if next != "" {
		body["nextPageToken"] = next
	}

	writeJSON(w, http.StatusOK, body)
}

func (f *fakeDrive) handleCreate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	switch {
	case q.Get("upload_id") != "":
		f.handleChunk(w, r, q.Get("upload_id"))
		return
	case q.Get("uploadType") == "resumable":
		f.handleResumableStart(w, r)
		return
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		writeAPIError(w, http.StatusBadRequest, "expected multipart upload")
		return
	}

	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "missing metadata part")
		return
	}

	var meta struct {
		Name string `json:"name"`
	}

	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad metadata")
		return
	}

	mediaPart, err := mr.NextPart()
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "missing media part")
		return
	}

	content, err := io.ReadAll(mediaPart)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad media part")
		return
	}

	contentType := mediaPart.Header.Get("Content-Type")
	f.lastUpload.name = meta.Name
	f.lastUpload.contentType = contentType

	ff := f.addLocked(meta.Name, contentType, content)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       ff.id,
		"name":     ff.name,
		"mimeType": ff.mimeType,
		"size":     strconv.Itoa(len(ff.content)),
	})
}

func (f *fakeDrive) handleResumableStart(w http.ResponseWriter, r *http.Request) {
	var meta struct {
		Name string `json:"name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad metadata")
		return
	}

	if f.sessions == nil {
		f.sessions = make(map[string]*uploadSession)
	}

	f.resumableUse++
	id := fmt.Sprintf("session-%d", f.resumableUse)
	f.sessions[id] = &uploadSession{
		name:        meta.Name,
		contentType: r.Header.Get("X-Upload-Content-Type"),
	}

	w.Header().Set("Location", "http://"+r.Host+"/upload/drive/v3/files?uploadType=resumable&upload_id="+id)
	w.WriteHeader(http.StatusOK)
}

// handleChunk accepts one chunk of a resumable upload. Intermediate chunks
// are acknowledged the way Google answers clients that send
// X-GUploader-No-308: 200 with an override header.
func (f *fakeDrive) handleChunk(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := f.sessions[id]
	if !ok {
		writeAPIError(w, http.StatusNotFound, "no upload session "+id)
		return
	}

	f.chunkCount++

	if f.failChunk > 0 && f.chunkCount == f.failChunk {
		f.failChunk = 0
		writeAPIError(w, http.StatusServiceUnavailable, "Service Unavailable")

		return
	}

	contentRange := r.Header.Get("Content-Range")
	f.chunkRanges = append(f.chunkRanges, contentRange)

	start, total, ok := parseContentRange(contentRange)
	if !ok || start != int64(len(sess.buf)) {
		writeAPIError(w, http.StatusBadRequest, "bad content range "+contentRange)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad chunk body")
		return
	}

	sess.buf = append(sess.buf, body...)

	if total < 0 || int64(len(sess.buf)) < total {
		w.Header().Set("X-Http-Status-Code-Override", "308")
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(sess.buf)-1))
		w.WriteHeader(http.StatusOK)

		return
	}

	delete(f.sessions, id)

	f.lastUpload.name = sess.name
	f.lastUpload.contentType = sess.contentType

	ff := f.addLocked(sess.name, sess.contentType, sess.buf)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       ff.id,
		"name":     ff.name,
		"mimeType": ff.mimeType,
		"size":     strconv.Itoa(len(ff.content)),
	})
}

// parseContentRange parses the upload forms "bytes a-b/total",
// "bytes a-b/*" and "bytes */total". total is -1 when unknown.
func parseContentRange(h string) (start, total int64, ok bool) {
	spec, ok := strings.CutPrefix(h, "bytes ")
	if !ok {
		return 0, 0, false
	}

	rng, size, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, false
	}

	total = -1
	if size != "*" {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil {
			return 0, 0, false
		}

		total = n
	}

	if rng == "*" {
		return total, total, total >= 0
	}

	a, _, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return 0, 0, false
	}

	return start, total, true
}

func (f *fakeDrive) handleMedia(w http.ResponseWriter, r *http.Request, id string) {
	if r.URL.Query().Get("alt") != "media" {
		writeAPIError(w, http.StatusBadRequest, "metadata get not supported")
		return
	}

	_, ff := f.find(id)
	if ff == nil {
		writeAPIError(w, http.StatusNotFound, "File not found: "+id+".")
		return
	}

	rangeHeader := r.Header.Get("Range")
	f.rangeHeader = append(f.rangeHeader, rangeHeader)

	size := int64(len(ff.content))

	f.mediaGets++
	if f.rangeAfter > 0 && f.mediaGets > f.rangeAfter {
		f.ignoreRange = true
	}

	if rangeHeader == "" || f.ignoreRange {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(ff.content)

		return
	}

	start, end, ok := parseRange(rangeHeader)
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "bad range "+rangeHeader)
		return
	}

	if f.failMediaAt > 0 && start >= f.failMediaAt {
		writeAPIError(w, http.StatusForbidden, "The download quota for this file has been exceeded.")
		return
	}

	if start >= size {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		writeAPIError(w, http.StatusRequestedRangeNotSatisfiable, "Request range not satisfiable")

		return
	}

	if f.stopAt > 0 && start >= f.stopAt {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusPartialContent)

		return
	}

	end = min(end, size-1)
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(ff.content[start : end+1])
}

func (f *fakeDrive) handleDelete(w http.ResponseWriter, id string) {
	i, ff := f.find(id)
	if ff == nil {
		writeAPIError(w, http.StatusNotFound, "File not found: "+id+".")
		return
	}

	f.files = append(f.files[:i], f.files[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

// parseRange parses "bytes=start-end".
func parseRange(h string) (int64, int64, bool) {
	spec, ok := strings.CutPrefix(h, "bytes=")
	if !ok {
		return 0, 0, false
	}

	a, b, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return 0, 0, false
	}

	end, err := strconv.ParseInt(b, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}

	return start, end, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": msg,
			"errors": []map[string]any{
				{"domain": "global", "reason": "testFault", "message": msg},
			},
		},
	})
}

// noopSleep is a sleepFunc that returns immediately.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

func validToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: testAccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}
}

// newTestClient returns a Client pointed at srv with retries enabled but
// instant.
func newTestClient(t *testing.T, srv *httptest.Server, opts Options) *Client {
	t.Helper()

	opts.Endpoint = srv.URL + "/drive/v3/"

	tok := validToken()

	c, err := NewClient(context.Background(), oauth2.StaticTokenSource(tok), tok, opts, slog.Default())
	require.NoError(t, err)

	c.retry.sleepFunc = noopSleep

	return c
}
