package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClientGet(t *testing.T) {
	var gotUA, gotReferer string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte{0x47, 0x00, 0x11})
	}))
	defer server.Close()

	c := NewHTTPClient(5 * time.Second)
	defer c.Close()
	headers := http.Header{}
	headers.Set("Referer", "https://example.com/")

	data, err := c.Get(context.Background(), server.URL+"/0.ts", headers)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(data) != 3 || data[0] != 0x47 {
		t.Errorf("Unexpected body %v", data)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("Expected default user agent, got %q", gotUA)
	}
	if gotReferer != "https://example.com/" {
		t.Errorf("Expected custom header to be sent, got %q", gotReferer)
	}
}

func TestHTTPClientUserAgentOverride(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	c := NewHTTPClient(5*time.Second, WithUserAgent("hlsmerge-test"))
	defer c.Close()
	if _, err := c.Get(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if gotUA != "hlsmerge-test" {
		t.Errorf("Expected hlsmerge-test, got %q", gotUA)
	}
}

func TestHTTPClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewHTTPClient(5 * time.Second)
	defer c.Close()
	_, err := c.Get(context.Background(), server.URL, nil)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", httpErr.StatusCode)
	}
}

func TestHTTPClientRateLimit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	c := NewHTTPClient(5*time.Second, WithRateLimit(20))
	defer c.Close()

	start := time.Now()
	for i := 0; i < 25; i++ {
		if _, err := c.Get(context.Background(), server.URL, nil); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	// 20 burst tokens, the remaining 5 arrive at 20/s.
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("Expected rate limiting to slow requests, took %v", elapsed)
	}
	if hits.Load() != 25 {
		t.Errorf("Expected 25 requests, got %d", hits.Load())
	}
}

func TestPolicyDo(t *testing.T) {
	tests := []struct {
		name         string
		policy       Policy
		failures     int
		err          error
		wantAttempts int
		wantErr      bool
	}{
		{"first try", Policy{Attempts: 3}, 0, nil, 1, false},
		{"second try", Policy{Attempts: 3, Delay: time.Millisecond}, 1, errors.New("reset"), 2, false},
		{"exhausted", Policy{Attempts: 3, Delay: time.Millisecond}, 10, errors.New("reset"), 3, true},
		{"zero attempts means one", Policy{}, 10, errors.New("reset"), 1, true},
		{"permanent", Policy{Attempts: 3}, 10, &HTTPError{StatusCode: 403}, 1, true},
		{"too many requests is transient", Policy{Attempts: 2, Delay: time.Millisecond}, 10, &HTTPError{StatusCode: 429}, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			attempts, err := tt.policy.Do(context.Background(), nil, "seg", func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			if attempts != tt.wantAttempts || calls != tt.wantAttempts {
				t.Errorf("Expected %d attempts, got %d (calls %d)", tt.wantAttempts, attempts, calls)
			}
			if tt.wantErr {
				var retryErr *RetryError
				if !errors.As(err, &retryErr) {
					t.Fatalf("Expected RetryError, got %v", err)
				}
				if retryErr.Attempts != tt.wantAttempts {
					t.Errorf("RetryError reports %d attempts, want %d", retryErr.Attempts, tt.wantAttempts)
				}
			} else if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestPolicyDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 5, Delay: time.Hour}

	done := make(chan struct{})
	var attempts int
	var err error
	go func() {
		defer close(done)
		attempts, err = p.Do(ctx, nil, "seg", func(context.Context) error {
			return errors.New("reset")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}
