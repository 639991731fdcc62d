// Package config holds the settings of one merge run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agleyzer/hlsmerge/internal/fetch"
)

// Defaults applied by Validate.
const (
	DefaultWorkDir = "./m3u8"
	DefaultOutput  = "./the_file.ts"
	DefaultTimeout = 30 * time.Second
	DefaultPort    = 8080
)

// RetryConfig is the per-request retry policy.
type RetryConfig struct {
	// Attempts is the total number of tries per request.
	Attempts int `yaml:"attempts"`
	// Delay is the pause between tries.
	Delay time.Duration `yaml:"delay"`
}

// Config holds the configuration for a merge run.
type Config struct {
	// Source is the manifest URL or local manifest path.
	Source string `yaml:"source"`
	// BaseURL resolves relative segment references of a local manifest.
	BaseURL string `yaml:"base_url"`
	// WorkDir receives the fetched segment copies.
	WorkDir string `yaml:"work_dir"`
	// Output is the merged artifact.
	Output string `yaml:"output"`
	// PlaylistOut, when set, receives the ad-free VOD playlist.
	PlaylistOut string `yaml:"playlist_out"`
	// Report, when set, receives the JSON run report.
	Report string `yaml:"report"`

	// Concurrency is the maximum number of in-flight segment fetches.
	Concurrency int `yaml:"concurrency"`
	// Retry applies to the manifest and to every segment.
	Retry RetryConfig `yaml:"retry"`
	// Timeout bounds a single HTTP request.
	Timeout time.Duration `yaml:"timeout"`
	// RateLimit caps requests per second; zero means unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent"`
	// Headers are extra request headers, e.g. Referer.
	Headers map[string]string `yaml:"headers"`

	// Serve keeps a preview server running after the merge.
	Serve bool `yaml:"serve"`
	// Port is the preview server port.
	Port int `yaml:"port"`
}

// Load reads a YAML config file. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file %s contains multiple documents", path)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid and fills in defaults.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("playlist source is required")
	}

	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}

	if c.Retry.Attempts < 0 {
		return fmt.Errorf("retry attempts must not be negative, got %d", c.Retry.Attempts)
	}

	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %s", c.Retry.Delay)
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %v", c.RateLimit)
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535 (0 selects %d), got %d", DefaultPort, c.Port)
	}

	// Set defaults
	if c.WorkDir == "" {
		c.WorkDir = DefaultWorkDir
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.Concurrency == 0 {
		c.Concurrency = fetch.DefaultConcurrency
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = fetch.DefaultPolicy().Attempts
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = fetch.DefaultPolicy().Delay
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = fetch.DefaultUserAgent
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}

	return nil
}

// Policy returns the retry policy.
func (c *Config) Policy() fetch.Policy {
	return fetch.Policy{Attempts: c.Retry.Attempts, Delay: c.Retry.Delay}
}

// HTTPHeaders returns Headers as an http.Header.
func (c *Config) HTTPHeaders() http.Header {
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}
