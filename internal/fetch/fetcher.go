package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/agleyzer/hlsmerge/internal/segment"
	"github.com/agleyzer/hlsmerge/internal/storage"
)

// DefaultConcurrency is the admission limit when none is configured.
const DefaultConcurrency = 15

// FetchError records a segment that could not be fetched.
type FetchError struct {
	Index int
	Name  string
	URL   string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("segment %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Result is the outcome for one segment. Each fetch task writes only its own
// Result.
type Result struct {
	LocalPath string
	Size      int64
	Attempts  int
	Skipped   bool
	Err       error
}

// Summary is the outcome of one Fetch call, indexed like the playlist.
type Summary struct {
	Results  []Result
	Fetched  int
	Skipped  int
	Failures []*FetchError
}

// Config configures a Fetcher.
type Config struct {
	// Concurrency is the maximum number of in-flight segment fetches
	Concurrency int

	// Policy is applied to every segment independently
	Policy Policy

	// Headers are sent with every request
	Headers http.Header
}

// Fetcher downloads playlist segments into a local directory.
type Fetcher struct {
	client Client
	fs     storage.FS
	config Config
	logger *slog.Logger
}

// New creates a Fetcher.
func New(client Client, fs storage.FS, config Config, logger *slog.Logger) *Fetcher {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.Policy.Attempts <= 0 {
		config.Policy = DefaultPolicy()
	}
	return &Fetcher{
		client: client,
		fs:     fs,
		config: config,
		logger: logger,
	}
}

// Fetch downloads every segment of p into dir. Segments whose local file
// already exists are not requested again. A failing segment never stops its
// siblings; when ctx is canceled no new fetches are admitted and already
// written files stay in place.
func (f *Fetcher) Fetch(ctx context.Context, p *segment.Playlist, dir string) *Summary {
	results := make([]Result, len(p.Segments))

	var g errgroup.Group
	g.SetLimit(f.config.Concurrency)

	var fetched, skipped atomic.Int64

	for i := range p.Segments {
		seg := p.Segments[i]
		slot := &results[i]
		slot.LocalPath = filepath.Join(dir, seg.LocalName())

		if f.fs.Exists(slot.LocalPath) {
			slot.Skipped = true
			if size, err := f.fs.Size(slot.LocalPath); err == nil {
				slot.Size = size
			}
			skipped.Add(1)
			continue
		}

		if ctx.Err() != nil {
			slot.Err = &FetchError{Index: seg.Index, Name: seg.Name(), Err: ctx.Err()}
			continue
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				slot.Err = &FetchError{Index: seg.Index, Name: seg.Name(), Err: ctx.Err()}
				return nil
			}
			f.fetchOne(ctx, p.BaseURL, seg, slot)
			if slot.Err == nil {
				fetched.Add(1)
			}
			return nil
		})
	}

	g.Wait()

	summary := &Summary{
		Results: results,
		Fetched: int(fetched.Load()),
		Skipped: int(skipped.Load()),
	}
	for i := range results {
		if fe, ok := results[i].Err.(*FetchError); ok {
			summary.Failures = append(summary.Failures, fe)
		}
	}

	f.logger.Info("segment fetch finished",
		"segments", len(results),
		"fetched", summary.Fetched,
		"skipped", summary.Skipped,
		"failed", len(summary.Failures),
	)

	return summary
}

// fetchOne fills slot for a single segment.
func (f *Fetcher) fetchOne(ctx context.Context, baseURL string, seg segment.Segment, slot *Result) {
	name := seg.Name()

	target, err := Resolve(baseURL, seg.Reference)
	if err != nil {
		slot.Err = &FetchError{Index: seg.Index, Name: name, URL: seg.Reference, Err: err}
		f.logger.Error("segment fetch failed", "index", seg.Index, "name", name, "error", err)
		return
	}

	var data []byte
	attempts, err := f.config.Policy.Do(ctx, f.logger, name, func(ctx context.Context) error {
		body, err := f.client.Get(ctx, target, f.config.Headers)
		if err != nil {
			return err
		}
		data = body
		return nil
	})
	slot.Attempts = attempts

	if err == nil {
		err = f.fs.WriteFile(slot.LocalPath, data)
	}
	if err != nil {
		slot.Err = &FetchError{Index: seg.Index, Name: name, URL: target, Err: err}
		f.logger.Error("segment fetch failed", "index", seg.Index, "name", name, "attempts", attempts, "error", err)
		return
	}

	slot.Size = int64(len(data))
	f.logger.Debug("segment fetched", "index", seg.Index, "name", name, "bytes", slot.Size, "attempts", attempts)
}

// Missing lists the local names of p that are not present in dir, in
// playlist order. Fetching only these completes a partial download.
func Missing(p *segment.Playlist, fs storage.FS, dir string) []string {
	var missing []string
	for _, seg := range p.Segments {
		if !fs.Exists(filepath.Join(dir, seg.LocalName())) {
			missing = append(missing, seg.LocalName())
		}
	}
	return missing
}

// Resolve resolves ref against base unless ref is already absolute.
func Resolve(base, ref string) (string, error) {
	rel, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}
	if rel.IsAbs() {
		return rel.String(), nil
	}

	if base == "" {
		return "", fmt.Errorf("%w: relative reference %q without base URL", ErrUnresolvable, ref)
	}

	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base URL: %v", ErrUnresolvable, err)
	}
	if !b.IsAbs() {
		return "", fmt.Errorf("%w: base URL %q is not absolute", ErrUnresolvable, base)
	}

	return b.ResolveReference(rel).String(), nil
}
