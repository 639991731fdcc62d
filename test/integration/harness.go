// Package integration provides integration testing utilities for hlsmerge.
package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agleyzer/hlsmerge/internal/config"
	"github.com/agleyzer/hlsmerge/internal/pipeline"
	"github.com/agleyzer/hlsmerge/internal/playlist"
	"github.com/agleyzer/hlsmerge/internal/server"
	"github.com/agleyzer/hlsmerge/internal/storage"
)

// TestHarness manages the test environment for integration tests: an origin
// serving playlists and segments from a temp directory, one merge run and an
// optional preview server over its result.
type TestHarness struct {
	t           *testing.T
	httpServer  *http.Server
	httpPort    int
	previewPort int
	originDir   string
	workDir     string
	cfg         *config.Config
	runner      *pipeline.Runner
	report      *pipeline.Report
	cancel      context.CancelFunc
	previewDone chan error
}

// NewTestHarness creates a new test harness.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	return &TestHarness{
		t:           t,
		httpPort:    findAvailablePort(t),
		previewPort: findAvailablePort(t),
		originDir:   t.TempDir(),
		workDir:     t.TempDir(),
	}
}

// StartHTTPServer starts the origin serving everything added with AddFile.
func (h *TestHarness) StartHTTPServer() {
	h.t.Helper()

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(h.originDir)))

	h.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", h.httpPort),
		Handler: mux,
	}

	go func() {
		if err := h.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.t.Logf("HTTP server error: %v", err)
		}
	}()

	h.waitForServer(h.OriginURL(""), 5*time.Second)
	h.t.Logf("HTTP server started on port %d", h.httpPort)
}

// AddFile writes a file the origin serves under name.
func (h *TestHarness) AddFile(name string, content []byte) {
	h.t.Helper()

	path := filepath.Join(h.originDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		h.t.Fatalf("failed to create origin directory: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		h.t.Fatalf("failed to write origin file: %v", err)
	}
}

// OriginURL returns the origin URL of name.
func (h *TestHarness) OriginURL(name string) string {
	return fmt.Sprintf("http://localhost:%d/%s", h.httpPort, name)
}

// Merge runs one merge of the origin playlist name.
func (h *TestHarness) Merge(name string) *pipeline.Report {
	h.t.Helper()

	h.cfg = &config.Config{
		Source:      h.OriginURL(name),
		WorkDir:     filepath.Join(h.workDir, "m3u8"),
		Output:      filepath.Join(h.workDir, "the_file.ts"),
		PlaylistOut: filepath.Join(h.workDir, "the_file.m3u8"),
		Report:      filepath.Join(h.workDir, "report.json"),
		Concurrency: 4,
		Retry:       config.RetryConfig{Attempts: 2, Delay: 10 * time.Millisecond},
		Port:        h.previewPort,
	}
	if err := h.cfg.Validate(); err != nil {
		h.t.Fatalf("invalid config: %v", err)
	}

	h.runner = pipeline.New(h.cfg, pipeline.Deps{Logger: testLogger()})
	report, err := h.runner.Run(context.Background())
	if err != nil {
		h.t.Fatalf("merge failed: %v", err)
	}
	h.report = report
	return report
}

// Output returns the merged artifact.
func (h *TestHarness) Output() []byte {
	h.t.Helper()

	data, err := os.ReadFile(h.cfg.Output)
	if err != nil {
		h.t.Fatalf("failed to read output: %v", err)
	}
	return data
}

// StartPreview serves the result of the last merge.
func (h *TestHarness) StartPreview() {
	h.t.Helper()

	clean, err := playlist.New(h.runner.Playlist(), storage.Disk{}, server.SegmentPrefix, testLogger())
	if err != nil {
		h.t.Fatalf("failed to create clean playlist: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.previewDone = make(chan error, 1)

	srv := server.New(clean, h.cfg.WorkDir, h.report, h.previewPort, testLogger())
	go func() {
		h.previewDone <- srv.Start(ctx)
	}()

	h.waitForServer(h.PreviewURL("health"), 5*time.Second)
	h.t.Logf("preview started on port %d", h.previewPort)
}

// PreviewURL returns the preview server URL of path.
func (h *TestHarness) PreviewURL(path string) string {
	return fmt.Sprintf("http://localhost:%d/%s", h.previewPort, path)
}

// Fetch GETs url and returns the body, failing the test on a non-200 status.
func (h *TestHarness) Fetch(url string) string {
	h.t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		h.t.Fatalf("failed to fetch %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("unexpected status code for %s: %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("failed to read body of %s: %v", url, err)
	}

	return string(body)
}

// Cleanup stops all running services.
func (h *TestHarness) Cleanup() {
	h.t.Helper()

	if h.cancel != nil {
		h.cancel()
		select {
		case <-h.previewDone:
		case <-time.After(5 * time.Second):
			h.t.Log("preview server did not stop in time")
		}
	}

	if h.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.httpServer.Shutdown(ctx)
	}
}

// waitForServer waits for a server to become available.
func (h *TestHarness) waitForServer(url string, timeout time.Duration) {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	h.t.Fatalf("server at %s did not become available within %v", url, timeout)
}

// findAvailablePort finds an available TCP port.
func findAvailablePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// ParsedPlaylist represents a parsed HLS playlist for testing.
type ParsedPlaylist struct {
	TargetDuration int
	PlaylistType   string
	Segments       []PlaylistSegment
	HasEndList     bool
}

// PlaylistSegment represents a segment in a playlist.
type PlaylistSegment struct {
	Duration float64
	URL      string
}

// ParsePlaylist parses an HLS playlist into a structured format.
func ParsePlaylist(content string) *ParsedPlaylist {
	playlist := &ParsedPlaylist{
		Segments: []PlaylistSegment{},
	}

	var currentSegment *PlaylistSegment

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			fmt.Sscanf(line, "#EXT-X-TARGETDURATION:%d", &playlist.TargetDuration)

		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:"):
			playlist.PlaylistType = strings.TrimPrefix(line, "#EXT-X-PLAYLIST-TYPE:")

		case line == "#EXT-X-ENDLIST":
			playlist.HasEndList = true

		case strings.HasPrefix(line, "#EXTINF:"):
			currentSegment = &PlaylistSegment{}
			fmt.Sscanf(line, "#EXTINF:%f,", &currentSegment.Duration)

		case !strings.HasPrefix(line, "#"):
			if currentSegment != nil {
				currentSegment.URL = line
				playlist.Segments = append(playlist.Segments, *currentSegment)
				currentSegment = nil
			}
		}
	}

	return playlist
}
