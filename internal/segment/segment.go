// Package segment defines data structures for HLS video segments.
package segment

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Classification marks whether a segment belongs to the program or to an
// inserted ad break.
type Classification int

const (
	// Content is program material and is kept in the merged output.
	Content Classification = iota
	// Ad is an inserted advertisement and is filtered out.
	Ad
)

func (c Classification) String() string {
	if c == Ad {
		return "ad"
	}
	return "content"
}

// Segment represents a single HLS media segment.
type Segment struct {
	// Index is the position in the source playlist (0..N-1)
	Index int

	// Reference is the segment URI as written in the manifest (absolute or relative)
	Reference string

	// Duration is the #EXTINF duration in seconds, nil when the manifest had none
	Duration *float64

	// LocalPath is where the fetched copy lives, empty until fetched
	LocalPath string

	// Size is the byte size of the local copy, valid only when HasSize is set
	Size    int64
	HasSize bool

	// Class is the ad classification, Content until detection runs
	Class Classification
}

// Name returns the last path element of the reference with any query string
// or fragment removed.
func (s Segment) Name() string {
	ref := s.Reference
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		ref = u.Path
	} else {
		if i := strings.IndexAny(ref, "?#"); i >= 0 {
			ref = ref[:i]
		}
	}
	ref = strings.ReplaceAll(ref, "\\", "/")
	return path.Base(ref)
}

// Stem returns Name without its extension.
func (s Segment) Stem() string {
	name := s.Name()
	return strings.TrimSuffix(name, path.Ext(name))
}

// LocalName is the file name used for the fetched copy. The index prefix keeps
// distinct references with the same basename apart on disk.
func (s Segment) LocalName() string {
	return fmt.Sprintf("%06d_%s", s.Index, s.Name())
}

// ErrAlreadyClassified is returned when ads are applied to a playlist twice.
var ErrAlreadyClassified = errors.New("playlist already classified")

// Playlist is an ordered list of segments. Segment order is the assembly order.
type Playlist struct {
	// BaseURL resolves relative segment references
	BaseURL string

	Segments []Segment

	classified bool
}

// Classify marks the segments at ads as Ad and every other segment as
// Content. It can be called once per playlist.
func (p *Playlist) Classify(ads []int) error {
	if p.classified {
		return ErrAlreadyClassified
	}

	for _, i := range ads {
		if i < 0 || i >= len(p.Segments) {
			return fmt.Errorf("ad index %d out of range (0-%d)", i, len(p.Segments)-1)
		}
	}

	for i := range p.Segments {
		p.Segments[i].Class = Content
	}
	for _, i := range ads {
		p.Segments[i].Class = Ad
	}

	p.classified = true
	return nil
}

// Classified reports whether Classify has run.
func (p *Playlist) Classified() bool {
	return p.classified
}

// Len returns the number of segments.
func (p *Playlist) Len() int {
	return len(p.Segments)
}

// Stems returns the stem of every segment in playlist order.
func (p *Playlist) Stems() []string {
	stems := make([]string, len(p.Segments))
	for i, seg := range p.Segments {
		stems[i] = seg.Stem()
	}
	return stems
}

// Durations returns per-index durations; entries are nil where unknown.
func (p *Playlist) Durations() []*float64 {
	durations := make([]*float64, len(p.Segments))
	for i, seg := range p.Segments {
		durations[i] = seg.Duration
	}
	return durations
}

// Names maps indices to segment names, preserving the order of indices.
func (p *Playlist) Names(indices []int) []string {
	names := make([]string, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(p.Segments) {
			names = append(names, p.Segments[i].Name())
		}
	}
	return names
}
