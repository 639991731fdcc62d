// Package pipeline runs one merge operation: load the manifest, fetch the
// segments, detect ads and reassemble what remains.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agleyzer/hlsmerge/internal/config"
	"github.com/agleyzer/hlsmerge/internal/detect"
	"github.com/agleyzer/hlsmerge/internal/fetch"
	"github.com/agleyzer/hlsmerge/internal/merge"
	"github.com/agleyzer/hlsmerge/internal/parser"
	"github.com/agleyzer/hlsmerge/internal/pattern"
	"github.com/agleyzer/hlsmerge/internal/playlist"
	"github.com/agleyzer/hlsmerge/internal/segment"
	"github.com/agleyzer/hlsmerge/internal/storage"
)

// StrategySummary is the diagnostic view of one strategy outcome.
type StrategySummary struct {
	Flagged      []string `json:"flagged"`
	Inconclusive bool     `json:"inconclusive"`
	Reason       string   `json:"reason,omitempty"`
}

// FailedSegment names a segment that could not be fetched.
type FailedSegment struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// FetchReport summarizes the fetch stage.
type FetchReport struct {
	Pending int             `json:"pending"`
	Fetched int             `json:"fetched"`
	Skipped int             `json:"skipped"`
	Failed  []FailedSegment `json:"failed"`
}

// Report is the diagnostic report of one run.
type Report struct {
	RunID      string                     `json:"runId"`
	Source     string                     `json:"source"`
	StartedAt  time.Time                  `json:"startedAt"`
	Elapsed    string                     `json:"elapsed"`
	Segments   int                        `json:"segments"`
	Scheme     pattern.Scheme             `json:"scheme"`
	Tally      pattern.Tally              `json:"tally"`
	Strategies map[string]StrategySummary `json:"strategies"`
	Ads        []string                   `json:"ads"`
	Fetch      FetchReport                `json:"fetch"`
	Merge      *merge.Report              `json:"merge"`
}

// Deps are the collaborators of a run. A nil Client is replaced by an
// HTTPClient built from the config; a nil FS by storage.Disk. Segment copies
// and every artifact of the run go through FS; a local manifest is read
// from disk by the parser.
type Deps struct {
	Client fetch.Client
	FS     storage.FS
	Logger *slog.Logger
}

// Runner executes a merge for one validated config.
type Runner struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	playlist *segment.Playlist
}

// New creates a Runner. cfg must have been validated.
func New(cfg *config.Config, deps Deps) *Runner {
	if deps.FS == nil {
		deps.FS = storage.Disk{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
	}
}

// Playlist returns the classified playlist of the last run, or nil.
func (r *Runner) Playlist() *segment.Playlist {
	return r.playlist
}

// Run executes the merge. A manifest that cannot be loaded, a canceled ctx
// and a failure to write the output abort the run; failed segments and
// filtered ads only show up in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{
		RunID:     uuid.NewString(),
		Source:    r.cfg.Source,
		StartedAt: started,
	}
	logger := r.logger.With("runId", report.RunID)

	client := r.deps.Client
	if client == nil {
		hc := fetch.NewHTTPClient(r.cfg.Timeout,
			fetch.WithUserAgent(r.cfg.UserAgent),
			fetch.WithRateLimit(r.cfg.RateLimit),
		)
		defer hc.Close()
		client = hc
	}

	headers := r.cfg.HTTPHeaders()

	loader := parser.NewLoader(client, r.cfg.Policy(), logger)
	loader.SetHeaders(headers)

	logger.Info("loading playlist", "source", r.cfg.Source)
	p, err := loader.Load(ctx, r.cfg.Source, r.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load playlist: %w", err)
	}
	report.Segments = p.Len()
	logger.Info("parsed playlist", "segments", p.Len(), "baseUrl", p.BaseURL)

	fetcher := fetch.New(client, r.deps.FS, fetch.Config{
		Concurrency: r.cfg.Concurrency,
		Policy:      r.cfg.Policy(),
		Headers:     headers,
	}, logger)

	pending := fetch.Missing(p, r.deps.FS, r.cfg.WorkDir)
	logger.Info("segments to fetch", "pending", len(pending), "local", p.Len()-len(pending))
	logger.Debug("pending segments", "names", pending)

	// Naming and the size-independent strategies only read the playlist, so
	// they run while segments download.
	var (
		summary  *fetch.Summary
		scheme   pattern.Scheme
		tally    pattern.Tally
		outcomes = make(map[string]detect.Outcome, len(detect.Strategies))
	)

	var g errgroup.Group
	g.Go(func() error {
		summary = fetcher.Fetch(ctx, p, r.cfg.WorkDir)
		return nil
	})
	g.Go(func() error {
		in := detect.Input{Stems: p.Stems(), Durations: p.Durations()}
		scheme, tally = pattern.Classify(in.Stems)
		outcomes[detect.StrategySequence] = detect.SequenceGap(in)
		outcomes[detect.StrategyDuration] = detect.DurationOutlier(in)
		return nil
	})
	g.Wait()

	report.Fetch = fetchReport(summary)
	report.Fetch.Pending = len(pending)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	r.resolveSizes(p, summary)

	outcomes[detect.StrategyFilesize] = detect.FilesizeOutlier(detect.InputFrom(p))
	result := detect.Combine(scheme, tally, outcomes)

	if err := p.Classify(result.Ads); err != nil {
		return report, fmt.Errorf("failed to classify segments: %w", err)
	}
	r.playlist = p

	report.Scheme = result.Scheme
	report.Tally = result.Tally
	report.Ads = p.Names(result.Ads)
	report.Strategies = make(map[string]StrategySummary, len(result.Strategies))
	for name, o := range result.Strategies {
		report.Strategies[name] = StrategySummary{
			Flagged:      p.Names(o.Indices),
			Inconclusive: o.Inconclusive,
			Reason:       o.Reason,
		}
	}

	logger.Info("ad detection finished",
		"scheme", result.Scheme,
		"ads", len(result.Ads),
		"sequential", tally.Sequential,
		"hash", tally.HashNamed,
		"timestamp", tally.Timestamped,
		"mixed", tally.Mixed,
	)

	mr, err := merge.New(r.deps.FS, logger).MergeFile(ctx, r.cfg.Output, p)
	report.Merge = mr
	if err != nil {
		return report, err
	}

	if r.cfg.PlaylistOut != "" {
		if err := r.writePlaylist(p); err != nil {
			return report, err
		}
	}

	report.Elapsed = time.Since(started).String()

	if r.cfg.Report != "" {
		if err := WriteReport(r.deps.FS, r.cfg.Report, report); err != nil {
			return report, err
		}
	}

	logger.Info("merge complete",
		"output", r.cfg.Output,
		"bytes", mr.FinalSizeBytes,
		"merged", mr.Merged,
		"missing", len(mr.Missing),
		"elapsed", report.Elapsed,
	)

	return report, nil
}

// resolveSizes records the local path and size of every segment. Sizes come
// from the fetch result, or from the filesystem for copies that were
// already on disk.
func (r *Runner) resolveSizes(p *segment.Playlist, summary *fetch.Summary) {
	for i := range p.Segments {
		res := summary.Results[i]
		seg := &p.Segments[i]
		seg.LocalPath = res.LocalPath

		switch {
		case res.Skipped:
			size, err := r.deps.FS.Size(res.LocalPath)
			if err != nil {
				r.logger.Warn("cannot stat local segment", "index", seg.Index, "path", res.LocalPath, "error", err)
				continue
			}
			seg.Size, seg.HasSize = size, true
		case res.Err == nil:
			seg.Size, seg.HasSize = res.Size, true
		}
	}
}

func (r *Runner) writePlaylist(p *segment.Playlist) error {
	prefix, err := playlist.RelativePrefix(r.cfg.PlaylistOut, r.cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("failed to resolve segment directory: %w", err)
	}

	clean, err := playlist.New(p, r.deps.FS, prefix, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create clean playlist: %w", err)
	}

	err = r.deps.FS.WriteAtomic(r.cfg.PlaylistOut, func(w io.Writer) error {
		_, err := clean.WriteTo(w)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write clean playlist: %w", err)
	}

	r.logger.Info("wrote clean playlist", "path", r.cfg.PlaylistOut)
	return nil
}

// WriteReport writes report to path as indented JSON.
func WriteReport(fs storage.FS, path string, report *Report) error {
	err := fs.WriteAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	})
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func fetchReport(s *fetch.Summary) FetchReport {
	fr := FetchReport{
		Fetched: s.Fetched,
		Skipped: s.Skipped,
		Failed:  []FailedSegment{},
	}
	for _, f := range s.Failures {
		fr.Failed = append(fr.Failed, FailedSegment{
			Index: f.Index,
			Name:  f.Name,
			Error: f.Err.Error(),
		})
	}
	return fr
}
