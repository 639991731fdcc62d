package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/agleyzer/hlsmerge/internal/pipeline"
	"github.com/agleyzer/hlsmerge/internal/playlist"
	"github.com/agleyzer/hlsmerge/internal/segment"
	"github.com/agleyzer/hlsmerge/internal/storage"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// createTestServer builds a server over five local segments, the third of
// which is an ad.
func createTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	dir := t.TempDir()
	p := &segment.Playlist{}
	for i := 0; i < 5; i++ {
		d := 10.0
		seg := segment.Segment{Index: i, Reference: "seg" + string(rune('1'+i)) + ".ts", Duration: &d}
		seg.LocalPath = filepath.Join(dir, seg.LocalName())
		if err := os.WriteFile(seg.LocalPath, []byte("data-"+seg.Name()), 0644); err != nil {
			t.Fatalf("Failed to write segment: %v", err)
		}
		p.Segments = append(p.Segments, seg)
	}
	if err := p.Classify([]int{2}); err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	logger := createTestLogger()
	clean, err := playlist.New(p, storage.Disk{}, SegmentPrefix, logger)
	if err != nil {
		t.Fatalf("Failed to create test playlist: %v", err)
	}

	report := &pipeline.Report{RunID: "run-1", Segments: 5, Ads: []string{"seg3.ts"}}
	return New(clean, dir, report, 8080, logger), dir
}

func TestNew(t *testing.T) {
	srv, dir := createTestServer(t)

	if srv.segmentDir != dir {
		t.Error("Segment directory not set correctly")
	}
	if srv.port != 8080 {
		t.Error("Port not set correctly")
	}
	if srv.report.RunID != "run-1" {
		t.Error("Report not set correctly")
	}
}

func TestHandlePlaylist(t *testing.T) {
	srv, _ := createTestServer(t)

	req := httptest.NewRequest("GET", "/playlist.m3u8", nil)
	w := httptest.NewRecorder()

	srv.handlePlaylist(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/vnd.apple.mpegurl" {
		t.Errorf("Expected Content-Type 'application/vnd.apple.mpegurl', got '%s'", contentType)
	}

	corsHeader := resp.Header.Get("Access-Control-Allow-Origin")
	if corsHeader != "*" {
		t.Errorf("Expected CORS header '*', got '%s'", corsHeader)
	}

	body := w.Body.String()
	if !strings.Contains(body, "#EXTM3U") {
		t.Error("Response body missing #EXTM3U tag")
	}
	if !strings.Contains(body, "#EXT-X-ENDLIST") {
		t.Error("Response body missing #EXT-X-ENDLIST tag")
	}
	if !strings.Contains(body, "segments/000000_seg1.ts") {
		t.Error("Response body missing first segment")
	}
	if strings.Contains(body, "seg3.ts") {
		t.Error("Response body must not list the ad segment")
	}
}

func TestHandleSegment(t *testing.T) {
	srv, _ := createTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest("GET", "/segments/000001_seg2.ts", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "data-seg2.ts" {
		t.Errorf("Expected segment bytes, got %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/mp2t" {
		t.Errorf("Expected Content-Type 'video/mp2t', got '%s'", ct)
	}
}

func TestHandleSegment_NotFound(t *testing.T) {
	srv, _ := createTestServer(t)
	handler := srv.Handler()

	for _, path := range []string{"/segments/", "/segments/nope.ts", "/segments/.hidden"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected status 404, got %d", path, w.Code)
		}
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := createTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	srv.handleHealth(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", contentType)
	}

	var health map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to parse JSON response: %v", err)
	}

	if health["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", health["status"])
	}

	stats, ok := health["stats"].(map[string]interface{})
	if !ok {
		t.Fatal("Stats is not a map")
	}

	expectedFields := []string{"total_segments", "ad_segments", "entries", "classified"}
	for _, field := range expectedFields {
		if _, ok := stats[field]; !ok {
			t.Errorf("Stats missing field '%s'", field)
		}
	}
	if stats["entries"].(float64) != 4 {
		t.Errorf("Expected 4 entries, got %v", stats["entries"])
	}

	report, ok := health["report"].(map[string]interface{})
	if !ok {
		t.Fatal("Report is not a map")
	}
	if report["runId"] != "run-1" {
		t.Errorf("Expected runId 'run-1', got %v", report["runId"])
	}
}

func TestLoggingMiddleware(t *testing.T) {
	srv, _ := createTestServer(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("test"))
	})

	wrapped := srv.loggingMiddleware(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	wrapped.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "test" {
		t.Errorf("Expected body 'test', got '%s'", w.Body.String())
	}
}

func TestResponseWriter_CapturesStatusCode(t *testing.T) {
	wrapped := &responseWriter{
		ResponseWriter: httptest.NewRecorder(),
		statusCode:     http.StatusOK,
	}

	wrapped.WriteHeader(http.StatusNotFound)

	if wrapped.statusCode != http.StatusNotFound {
		t.Errorf("Expected status code 404, got %d", wrapped.statusCode)
	}
}

func TestNewErrorLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	newErrorLog(logger, hclog.Warn).Println("http: TLS handshake error")

	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("Expected a warn-level record, got %q", out)
	}
	if !strings.Contains(out, "TLS handshake error") {
		t.Errorf("Expected the message to be forwarded, got %q", out)
	}
}

func TestServer_Integration(t *testing.T) {
	srv, _ := createTestServer(t)
	srv.port = 0 // Use port 0 for automatic port assignment

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	cancel()

	select {
	case err := <-errChan:
		if err != nil && err != http.ErrServerClosed {
			t.Errorf("Expected nil or ErrServerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Server did not stop within timeout")
	}
}

func TestHandleHealth_ConcurrentRequests(t *testing.T) {
	srv, _ := createTestServer(t)

	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func() {
			req := httptest.NewRequest("GET", "/health", nil)
			w := httptest.NewRecorder()

			srv.handleHealth(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", w.Code)
			}

			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
