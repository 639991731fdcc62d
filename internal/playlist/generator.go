// Package playlist generates the ad-free local VOD playlist of a merged
// recording.
package playlist

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/grafov/m3u8"

	"github.com/agleyzer/hlsmerge/internal/segment"
	"github.com/agleyzer/hlsmerge/internal/storage"
)

// DefaultDuration is written for segments whose manifest had no #EXTINF.
const DefaultDuration = 10.0

// Clean is the VOD playlist of the Content segments that have a local copy.
type Clean struct {
	source *segment.Playlist
	fs     storage.FS
	prefix string
	logger *slog.Logger
}

// New creates a clean playlist over a classified source playlist. Segment
// URIs are written as prefix followed by the segment's local name.
func New(source *segment.Playlist, fs storage.FS, prefix string, logger *slog.Logger) (*Clean, error) {
	if source == nil || source.Len() == 0 {
		return nil, fmt.Errorf("cannot create playlist with zero segments")
	}

	if !source.Classified() {
		logger.Warn("source playlist is not classified, every segment counts as content")
	}

	return &Clean{
		source: source,
		fs:     fs,
		prefix: prefix,
		logger: logger,
	}, nil
}

// entries returns the segments listed by the clean playlist.
func (c *Clean) entries() []segment.Segment {
	var out []segment.Segment
	for _, seg := range c.source.Segments {
		if seg.Class == segment.Ad {
			continue
		}
		if seg.LocalPath == "" || !c.fs.Exists(seg.LocalPath) {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// Encode builds the media playlist.
func (c *Clean) Encode() (*m3u8.MediaPlaylist, error) {
	entries := c.entries()

	capacity := uint(len(entries))
	if capacity == 0 {
		capacity = 1
	}

	mp, err := m3u8.NewMediaPlaylist(0, capacity)
	if err != nil {
		return nil, fmt.Errorf("create media playlist: %w", err)
	}
	mp.MediaType = m3u8.VOD

	for _, seg := range entries {
		duration := DefaultDuration
		if seg.Duration != nil {
			duration = *seg.Duration
		}
		if err := mp.Append(c.prefix+seg.LocalName(), duration, ""); err != nil {
			return nil, fmt.Errorf("append segment %d: %w", seg.Index, err)
		}
	}
	mp.Close()

	c.logger.Debug("generated clean playlist", "entries", len(entries), "segments", c.source.Len())

	return mp, nil
}

// Generate returns the playlist text.
func (c *Clean) Generate() (string, error) {
	mp, err := c.Encode()
	if err != nil {
		return "", err
	}
	return mp.String(), nil
}

// WriteTo writes the playlist text to w.
func (c *Clean) WriteTo(w io.Writer) (int64, error) {
	mp, err := c.Encode()
	if err != nil {
		return 0, err
	}
	return mp.Encode().WriteTo(w)
}

// GetStats returns counts describing the playlist.
func (c *Clean) GetStats() map[string]interface{} {
	ads := 0
	for _, seg := range c.source.Segments {
		if seg.Class == segment.Ad {
			ads++
		}
	}

	return map[string]interface{}{
		"total_segments": c.source.Len(),
		"ad_segments":    ads,
		"entries":        len(c.entries()),
		"classified":     c.source.Classified(),
	}
}

// RelativePrefix returns the URI prefix that reaches files in segmentDir
// from a playlist written at playlistPath.
func RelativePrefix(playlistPath, segmentDir string) (string, error) {
	from, err := filepath.Abs(filepath.Dir(playlistPath))
	if err != nil {
		return "", err
	}
	to, err := filepath.Abs(segmentDir)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(from, to)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel) + "/", nil
}
