// Package merge concatenates fetched segments into a single artifact.
package merge

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/agleyzer/hlsmerge/internal/segment"
	"github.com/agleyzer/hlsmerge/internal/storage"
)

// Report summarizes one reassembly.
type Report struct {
	TotalSegments  int      `json:"totalSegments"`
	Merged         int      `json:"merged"`
	AdFiltered     []string `json:"adFiltered"`
	Missing        []string `json:"missing"`
	FinalSizeBytes int64    `json:"finalSizeBytes"`
}

// Reassembler writes the Content segments of a playlist, in playlist order,
// to an output.
type Reassembler struct {
	fs     storage.FS
	logger *slog.Logger
}

// New creates a Reassembler reading local copies through fs.
func New(fs storage.FS, logger *slog.Logger) *Reassembler {
	return &Reassembler{fs: fs, logger: logger}
}

// Merge appends the bytes of every Content segment with a local copy to w.
// Ad segments are skipped and named in AdFiltered; Content segments without
// a local copy are skipped and named in Missing. Only a failure to write w
// is returned as an error.
func (r *Reassembler) Merge(ctx context.Context, w io.Writer, p *segment.Playlist) (*Report, error) {
	report := &Report{
		TotalSegments: p.Len(),
		AdFiltered:    []string{},
		Missing:       []string{},
	}

	for _, seg := range p.Segments {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if seg.Class == segment.Ad {
			report.AdFiltered = append(report.AdFiltered, seg.Name())
			continue
		}

		if seg.LocalPath == "" || !r.fs.Exists(seg.LocalPath) {
			r.logger.Warn("segment missing, skipping", "index", seg.Index, "name", seg.Name())
			report.Missing = append(report.Missing, seg.Name())
			continue
		}

		data, err := r.fs.ReadFile(seg.LocalPath)
		if err != nil {
			if storage.IsNotExist(err) {
				r.logger.Warn("segment missing, skipping", "index", seg.Index, "name", seg.Name())
			} else {
				r.logger.Warn("segment unreadable, skipping", "index", seg.Index, "name", seg.Name(), "error", err)
			}
			report.Missing = append(report.Missing, seg.Name())
			continue
		}

		n, err := w.Write(data)
		report.FinalSizeBytes += int64(n)
		if err != nil {
			return report, fmt.Errorf("write segment %d (%s): %w", seg.Index, seg.Name(), err)
		}
		report.Merged++
	}

	r.logger.Info("merge finished",
		"segments", report.TotalSegments,
		"merged", report.Merged,
		"adFiltered", len(report.AdFiltered),
		"missing", len(report.Missing),
		"bytes", report.FinalSizeBytes,
	)

	return report, nil
}

// MergeFile merges into path through the FS. The file is replaced atomically, so a failed
// merge leaves any previous artifact untouched.
func (r *Reassembler) MergeFile(ctx context.Context, path string, p *segment.Playlist) (*Report, error) {
	var report *Report
	err := r.fs.WriteAtomic(path, func(w io.Writer) error {
		var err error
		report, err = r.Merge(ctx, w, p)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("merge into %s: %w", path, err)
	}
	return report, nil
}
