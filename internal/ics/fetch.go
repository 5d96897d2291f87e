package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	appLog "famcal/internal/log"
)

const (
	DefaultFetchAttempts = 3
	DefaultFetchBackoff  = 500 * time.Millisecond
	DefaultFetchTimeout  = 15 * time.Second

	// DefaultMaxBodyBytes guards against runaway upstream responses.
	DefaultMaxBodyBytes = 32 << 20
)

// ErrNotConfigured reports a missing feed URL or proxy. Callers surface it
// as an actionable message rather than a transient outage.
var ErrNotConfigured = errors.New("calendar feed not configured")

// ErrBodyTooLarge reports a feed body above the configured limit. A truncated
// document is never handed to the parser.
var ErrBodyTooLarge = errors.New("ics body too large")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("calendar fetch failed: %s", e.Status)
}

// HTTPDoer is the subset of *http.Client used by Fetcher.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// ProxyURL is a CORS-capable proxy; the feed is requested as
	// <ProxyURL>?url=<escaped feed URL>.
	ProxyURL string
	// Direct allows fetching the feed URL itself when ProxyURL is empty.
	Direct bool

	Client   HTTPDoer
	Attempts int
	Backoff  time.Duration
	// MaxBodyBytes caps the accepted body size. Zero uses DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// conditional holds validators for a conditional GET.
type conditional struct {
	etag         string
	lastModified string
	body         string
}

// Fetcher downloads ICS feeds with bounded retry and conditional requests.
type Fetcher struct {
	client   HTTPDoer
	proxy    string
	direct   bool
	attempts uint
	backoff  time.Duration
	maxBody  int64

	mu    sync.Mutex
	known map[string]conditional
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultFetchAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultFetchBackoff
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Fetcher{
		client:   opts.Client,
		proxy:    opts.ProxyURL,
		direct:   opts.Direct,
		attempts: uint(opts.Attempts),
		backoff:  opts.Backoff,
		maxBody:  opts.MaxBodyBytes,
		known:    make(map[string]conditional),
	}
}

// Fetch returns the ICS body of feedURL. Configuration problems wrap
// ErrNotConfigured and are never retried; 4xx responses are not retried
// either.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (string, error) {
	target, err := f.requestURL(feedURL)
	if err != nil {
		return "", err
	}

	var body string
	err = retry.Do(
		func() error {
			b, ferr := f.fetchOnce(ctx, feedURL, target)
			if ferr != nil {
				return ferr
			}
			body = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(f.attempts),
		retry.Delay(f.backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, rerr error) {
			appLog.Debug("ics fetch retry", "url", redactURL(feedURL), "attempt", n+1, "err", rerr.Error())
		}),
	)
	if err != nil {
		return "", err
	}
	return body, nil
}

func (f *Fetcher) requestURL(feedURL string) (string, error) {
	if feedURL == "" {
		return "", fmt.Errorf("%w: feed URL is empty", ErrNotConfigured)
	}
	if f.proxy == "" {
		if f.direct {
			return feedURL, nil
		}
		return "", fmt.Errorf("%w: CORS proxy URL is not set", ErrNotConfigured)
	}
	return f.proxy + "?url=" + url.QueryEscape(feedURL), nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, feedURL, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", retry.Unrecoverable(fmt.Errorf("build request: %w", err))
	}

	f.mu.Lock()
	prev, havePrev := f.known[feedURL]
	f.mu.Unlock()
	if havePrev {
		if prev.etag != "" {
			req.Header.Set("If-None-Match", prev.etag)
		}
		if prev.lastModified != "" {
			req.Header.Set("If-Modified-Since", prev.lastModified)
		}
	}

	appLog.Debug("ics fetch start", "url", redactURL(feedURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch ics: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && havePrev:
		appLog.Debug("ics fetch not modified", "url", redactURL(feedURL))
		return prev.body, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return "", fmt.Errorf("read ics body: %w", err)
	}
	if int64(len(data)) > f.maxBody {
		return "", fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, f.maxBody)
	}
	body := string(data)

	etag, lastMod := resp.Header.Get("ETag"), resp.Header.Get("Last-Modified")
	f.mu.Lock()
	if etag != "" || lastMod != "" {
		f.known[feedURL] = conditional{etag: etag, lastModified: lastMod, body: body}
	} else {
		delete(f.known, feedURL)
	}
	f.mu.Unlock()

	appLog.Info("ics fetch success", "url", redactURL(feedURL), "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrBodyTooLarge) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://calendar.google.com/calendar/ical/private-abc/basic.ics
//	-> https://calendar.google.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
