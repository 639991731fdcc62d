// The hlsmerge command downloads an HLS recording, drops inserted ad
// segments and concatenates the rest into a single file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agleyzer/hlsmerge/internal/config"
	"github.com/agleyzer/hlsmerge/internal/pipeline"
	"github.com/agleyzer/hlsmerge/internal/playlist"
	"github.com/agleyzer/hlsmerge/internal/server"
	"github.com/agleyzer/hlsmerge/internal/storage"
)

const (
	version = "1.0.0"
)

// headerFlag collects repeated "Name: value" flags.
type headerFlag map[string]string

func (h headerFlag) String() string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, ", ")
}

func (h headerFlag) Set(value string) error {
	name, v, ok := strings.Cut(value, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header must look like 'Name: value', got %q", value)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(v)
	return nil
}

// options are the parsed command line.
type options struct {
	configPath  string
	baseURL     string
	workDir     string
	output      string
	playlistOut string
	report      string
	concurrency int
	retries     int
	retryDelay  time.Duration
	timeout     time.Duration
	rateLimit   float64
	userAgent   string
	headers     headerFlag
	serve       bool
	port        int
	verbose     bool
	showVersion bool
}

func newFlagSet(name string) (*flag.FlagSet, *options) {
	o := &options{headers: headerFlag{}}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	fs.StringVar(&o.configPath, "config", "", "YAML config file; flags override its values")
	fs.StringVar(&o.baseURL, "base-url", "", "Base URL for relative segment references of a local playlist")
	fs.StringVar(&o.workDir, "dir", config.DefaultWorkDir, "Directory for downloaded segments")
	fs.StringVar(&o.output, "output", config.DefaultOutput, "Merged output file")
	fs.StringVar(&o.playlistOut, "playlist-out", "", "Write an ad-free VOD playlist of the local segments to this file")
	fs.StringVar(&o.report, "report", "", "Write a JSON run report to this file")
	fs.IntVar(&o.concurrency, "concurrency", 15, "Maximum concurrent segment downloads")
	fs.IntVar(&o.retries, "retries", 3, "Total attempts per request")
	fs.DurationVar(&o.retryDelay, "retry-delay", 3*time.Second, "Delay between attempts")
	fs.DurationVar(&o.timeout, "timeout", config.DefaultTimeout, "Timeout of a single HTTP request")
	fs.Float64Var(&o.rateLimit, "rate-limit", 0, "Maximum requests per second (0 = unlimited)")
	fs.StringVar(&o.userAgent, "user-agent", "", "User-Agent header (default: desktop browser)")
	fs.Var(o.headers, "header", "Extra request header 'Name: value' (repeatable)")
	fs.BoolVar(&o.serve, "serve", false, "Serve the ad-free playlist over HTTP after merging")
	fs.IntVar(&o.port, "port", config.DefaultPort, "HTTP server port for --serve")
	fs.BoolVar(&o.verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&o.showVersion, "version", false, "Show version and exit")

	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "hlsmerge - HLS download and ad removal tool v%s\n\n", version)
		fmt.Fprintf(out, "Usage: %s [options] <playlist>\n\n", name)
		fmt.Fprintf(out, "Arguments:\n")
		fmt.Fprintf(out, "  <playlist>    URL or local path of the HLS playlist (media or master)\n\n")
		fmt.Fprintf(out, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nExamples:\n")
		fmt.Fprintf(out, "  %s https://example.com/show/index.m3u8\n", name)
		fmt.Fprintf(out, "  %s --output show.ts --report report.json https://example.com/show/index.m3u8\n", name)
		fmt.Fprintf(out, "  %s --base-url https://cdn.example.com/show/ ./index.m3u8\n", name)
		fmt.Fprintf(out, "  %s --header 'Referer: https://example.com/' --serve https://example.com/index.m3u8\n", name)
	}

	return fs, o
}

// buildConfig merges the config file (if any) with the flags that were set
// explicitly and validates the result.
func buildConfig(fs *flag.FlagSet, o *options) (*config.Config, error) {
	cfg := &config.Config{}
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if fs.NArg() > 0 {
		cfg.Source = fs.Arg(0)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base-url":
			cfg.BaseURL = o.baseURL
		case "dir":
			cfg.WorkDir = o.workDir
		case "output":
			cfg.Output = o.output
		case "playlist-out":
			cfg.PlaylistOut = o.playlistOut
		case "report":
			cfg.Report = o.report
		case "concurrency":
			cfg.Concurrency = o.concurrency
		case "retries":
			cfg.Retry.Attempts = o.retries
		case "retry-delay":
			cfg.Retry.Delay = o.retryDelay
		case "timeout":
			cfg.Timeout = o.timeout
		case "rate-limit":
			cfg.RateLimit = o.rateLimit
		case "user-agent":
			cfg.UserAgent = o.userAgent
		case "header":
			if cfg.Headers == nil {
				cfg.Headers = make(map[string]string)
			}
			for k, v := range o.headers {
				cfg.Headers[k] = v
			}
		case "serve":
			cfg.Serve = o.serve
		case "port":
			cfg.Port = o.port
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	fs, opts := newFlagSet(os.Args[0])
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Printf("hlsmerge v%s\n", version)
		os.Exit(0)
	}

	cfg, err := buildConfig(fs, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		fs.Usage()
		os.Exit(1)
	}

	// Setup logger
	logLevel := slog.LevelInfo
	if opts.verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	logger.Info("hlsmerge starting", "version", version)

	if err := run(cfg, logger); err != nil {
		logger.Error("application error", "error", err)
		os.Exit(1)
	}

	logger.Info("hlsmerge stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	runner := pipeline.New(cfg, pipeline.Deps{FS: storage.Disk{}, Logger: logger})
	report, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}

	logger.Info("merged recording ready",
		"output", cfg.Output,
		"scheme", report.Scheme,
		"ads", len(report.Ads),
		"missing", len(report.Merge.Missing),
		"failed", len(report.Fetch.Failed),
	)

	if !cfg.Serve {
		return nil
	}

	clean, err := playlist.New(runner.Playlist(), storage.Disk{}, server.SegmentPrefix, logger)
	if err != nil {
		return fmt.Errorf("failed to create clean playlist: %w", err)
	}

	srv := server.New(clean, cfg.WorkDir, report, cfg.Port, logger)

	logger.Info("preview ready",
		"url", fmt.Sprintf("http://localhost:%d/playlist.m3u8", cfg.Port),
		"health", fmt.Sprintf("http://localhost:%d/health", cfg.Port),
	)

	// Start server (blocks until shutdown)
	return srv.Start(ctx)
}
