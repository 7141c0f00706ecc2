package transfer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Fetcher downloads a URL into a writer
type Fetcher interface {
	// Fetch streams the body of url into w
	Fetch(ctx context.Context, url string, w io.Writer) error
}

// Error is a failed network fetch
type Error struct {
	URL    string
	Status int // HTTP status, 0 if no response was received
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options configures a Client
type Options struct {
	Timeout    time.Duration
	Retries    int           // extra attempts after the first one
	RetryDelay time.Duration // doubled after every failed attempt
	Progress   io.Writer     // progress bar output, nil disables it
	UserAgent  string
}

// Client implements Fetcher over HTTP(S)
type Client struct {
	http   *http.Client
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewClient creates an HTTP client with TLS 1.2+ and the given options
func NewClient(opts Options, logger *slog.Logger) *Client {
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2: true,
	}

	if opts.UserAgent == "" {
		opts.UserAgent = "hubsyncd"
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Fetch downloads url into w. Connection errors and 5xx/429 responses are
// retried with exponential backoff; once body bytes reach w the attempt is
// final.
func (c *Client) Fetch(ctx context.Context, url string, w io.Writer) error {
	delay := c.opts.RetryDelay
	var lastErr error

	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying download",
				"url", url,
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return &Error{URL: url, Err: err}
			}
			delay *= 2
		}

		retry, err := c.fetchOnce(ctx, url, w)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}

	return lastErr
}

// fetchOnce performs a single GET and reports whether a failure is retryable
func (c *Client) fetchOnce(ctx context.Context, url string, w io.Writer) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, &Error{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return ctx.Err() == nil, &Error{URL: url, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return retry, &Error{URL: url, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	out := &sinkWriter{w: w}
	var dst io.Writer = out
	if c.opts.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(c.opts.Progress),
			progressbar.OptionSetDescription(fmt.Sprintf("downloading %s", path.Base(req.URL.Path))),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer func() {
			_ = bar.Finish()
		}()
		dst = io.MultiWriter(out, bar)
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		if out.err != nil {
			// local write failure, not a transfer problem
			return false, out.err
		}
		return false, &Error{URL: url, Status: resp.StatusCode, Err: err}
	}

	return false, nil
}

// sinkWriter remembers the first error of the destination writer
type sinkWriter struct {
	w   io.Writer
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil && s.err == nil {
		s.err = err
	}
	return n, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
