package gemini

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	appconfig "grill-master/app/config"
	"grill-master/app/database"
	"grill-master/app/logger"
	"grill-master/app/provider"
	"grill-master/app/store"
	"grill-master/app/tasklog"
)

func newFileTestLogger(t *testing.T) *tasklog.Logger {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logger.New(appconfig.LogConfig{Level: "error", Format: "text", Output: "stdout"})
	st := store.New(db, log)
	return tasklog.New(st, log, "task-1", "project-1", "translate_subtitles", 75)
}

func newFileTestProvider(ts *httptest.Server) *Provider {
	p := New(testGeminiConfig("key-a"))
	p.client.SetBaseURL(ts.URL)
	p.pollInterval = time.Millisecond
	return p
}

// TestEnsureFileWaitsForProcessing: a file left PROCESSING by an earlier
// attempt is polled until ACTIVE instead of being referenced immediately.
func TestEnsureFileWaitsForProcessing(t *testing.T) {
	gets := 0
	uploads := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1beta/files/") {
			gets++
			state := "PROCESSING"
			if gets >= 3 {
				state = "ACTIVE"
			}
			name := strings.TrimPrefix(r.URL.Path, "/v1beta/files/")
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"name":"files/%s","uri":"https://files/abc","mimeType":"audio/ogg","state":%q}`, name, state)
			return
		}
		uploads++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	p := newFileTestProvider(ts)
	req := provider.TranslateRequest{ProjectID: "project-1", Logger: newFileTestLogger(t)}

	file, err := p.ensureFile(req, "unused")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if file.URI != "https://files/abc" || file.State != "ACTIVE" {
		t.Fatalf("file = %+v, want active with uri", file)
	}
	if uploads != 0 {
		t.Fatalf("uploads = %d, want 0 (file already stored)", uploads)
	}
	if gets < 3 {
		t.Fatalf("gets = %d, want at least 3 (initial + polls)", gets)
	}
}

// TestEnsureFileFailedState: a FAILED file surfaces a retryable error.
func TestEnsureFileFailedState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/v1beta/files/")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name":"files/%s","uri":"https://files/abc","state":"FAILED"}`, name)
	}))
	defer ts.Close()

	p := newFileTestProvider(ts)
	req := provider.TranslateRequest{ProjectID: "project-1", Logger: newFileTestLogger(t)}

	_, err := p.ensureFile(req, "unused")
	if err == nil {
		t.Fatal("expected error for failed file")
	}
	if !strings.Contains(err.Error(), "文件处理失败") {
		t.Fatalf("err = %v", err)
	}
	perr, ok := err.(*provider.Error)
	if !ok || !perr.IsRetryable() {
		t.Fatalf("err = %#v, want retryable provider error", err)
	}
}

// TestEnsureFileUploadsWhenAbsent: a 404 lookup triggers an upload, and the
// uploaded file is returned once it reports ACTIVE.
func TestEnsureFileUploadsWhenAbsent(t *testing.T) {
	uploads := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		uploads++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"file":{"name":"files/x","uri":"https://files/uploaded","mimeType":"audio/ogg","state":"ACTIVE"}}`)
	}))
	defer ts.Close()

	audioPath := filepath.Join(t.TempDir(), "audio.opus")
	if err := os.WriteFile(audioPath, []byte("opus"), 0644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	p := newFileTestProvider(ts)
	req := provider.TranslateRequest{ProjectID: "project-1", Logger: newFileTestLogger(t)}

	file, err := p.ensureFile(req, audioPath)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if uploads != 1 {
		t.Fatalf("uploads = %d, want 1", uploads)
	}
	if file.URI != "https://files/uploaded" {
		t.Fatalf("uri = %q", file.URI)
	}
}
