// Package parser provides HLS playlist parsing functionality.
package parser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"github.com/agleyzer/hlsmerge/internal/fetch"
	"github.com/agleyzer/hlsmerge/internal/segment"
)

const (
	extinfPrefix = "#EXTINF:"
	streamInfTag = "#EXT-X-STREAM-INF"
)

// ParseError means the manifest could not be read or contains no segments.
// It is fatal for the merge operation.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse manifest %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse reads a media manifest. An #EXTINF directive applies only to the next
// non-blank, non-comment line. Other comment lines and blank lines are
// skipped, and a directive that no segment line follows is dropped.
func Parse(r io.Reader, baseURL string) (*segment.Playlist, error) {
	p := &segment.Playlist{BaseURL: baseURL}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var pending *float64
	first := true

	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "":
			continue

		case strings.HasPrefix(line, extinfPrefix):
			pending = parseDuration(line)

		case strings.HasPrefix(line, "#"):
			continue

		default:
			p.Segments = append(p.Segments, segment.Segment{
				Index:     len(p.Segments),
				Reference: line,
				Duration:  pending,
			})
			pending = nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Source: baseURL, Err: err}
	}

	if len(p.Segments) == 0 {
		return nil, &ParseError{Source: baseURL, Err: fmt.Errorf("playlist contains no segments")}
	}

	return p, nil
}

// parseDuration extracts the seconds of an #EXTINF line. Unparseable values
// leave the duration unknown.
func parseDuration(line string) *float64 {
	value := strings.TrimPrefix(line, extinfPrefix)
	if i := strings.IndexByte(value, ','); i >= 0 {
		value = value[:i]
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || d < 0 {
		return nil
	}
	return &d
}

// Loader reads manifests from URLs or local files.
type Loader struct {
	client  fetch.Client
	policy  fetch.Policy
	headers http.Header
	logger  *slog.Logger
}

// NewLoader creates a Loader that fetches remote manifests with client under policy.
func NewLoader(client fetch.Client, policy fetch.Policy, logger *slog.Logger) *Loader {
	return &Loader{
		client: client,
		policy: policy,
		logger: logger,
	}
}

// SetHeaders sets the headers sent with remote manifest requests.
func (l *Loader) SetHeaders(h http.Header) {
	l.headers = h
}

// Load reads source, a http(s) URL or a local path, and parses it. Remote
// manifests use their own URL as base; local ones use baseURL. A master
// playlist is followed to its highest-bandwidth variant.
func (l *Loader) Load(ctx context.Context, source, baseURL string) (*segment.Playlist, error) {
	content, base, err := l.read(ctx, source, baseURL)
	if err != nil {
		return nil, err
	}

	if bytes.Contains(content, []byte(streamInfTag)) {
		variantURL, err := selectVariant(content, base)
		if err != nil {
			return nil, &ParseError{Source: source, Err: err}
		}

		l.logger.Info("master playlist detected, following variant", "variant", variantURL)

		content, base, err = l.read(ctx, variantURL, "")
		if err != nil {
			return nil, err
		}
		if bytes.Contains(content, []byte(streamInfTag)) {
			return nil, &ParseError{Source: variantURL, Err: fmt.Errorf("nested master playlist")}
		}
	}

	return Parse(bytes.NewReader(content), base)
}

// read returns the manifest bytes and the base URL for its references.
func (l *Loader) read(ctx context.Context, source, baseURL string) ([]byte, string, error) {
	if isRemote(source) {
		var content []byte
		_, err := l.policy.Do(ctx, l.logger, source, func(ctx context.Context) error {
			body, err := l.client.Get(ctx, source, l.headers)
			if err != nil {
				return err
			}
			content = body
			return nil
		})
		if err != nil {
			return nil, "", &ParseError{Source: source, Err: fmt.Errorf("failed to fetch playlist: %w", err)}
		}
		return content, source, nil
	}

	content, err := os.ReadFile(source)
	if err != nil {
		return nil, "", &ParseError{Source: source, Err: err}
	}
	return content, baseURL, nil
}

// selectVariant picks the variant with the highest bandwidth; on a tie the
// later one wins.
func selectVariant(content []byte, masterURL string) (string, error) {
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(content), false)
	if err != nil {
		return "", fmt.Errorf("failed to parse master playlist: %w", err)
	}
	if listType != m3u8.MASTER {
		return "", fmt.Errorf("expected master playlist")
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return "", fmt.Errorf("unexpected playlist type")
	}

	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth >= best.Bandwidth {
			best = v
		}
	}
	if best == nil {
		return "", fmt.Errorf("master playlist contains no variants")
	}

	variantURL, err := fetch.Resolve(masterURL, best.URI)
	if err != nil {
		return "", fmt.Errorf("failed to resolve variant URL: %w", err)
	}
	return variantURL, nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
