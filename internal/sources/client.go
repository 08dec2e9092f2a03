package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"econbot/pkg/logx"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

const maxBody = 8 << 20

type ClientOptions struct {
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64
	RetryMax   int
	Log        logx.Logger
	// HTTP replaces the default tuned client (tests).
	HTTP *http.Client
}

// Client is the HTTP client shared by all adapters. It paces requests per
// host and retries transient failures.
type Client struct {
	hc       *http.Client
	ua       string
	rps      float64
	retryMax int
	log      logx.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("http status %d", e.Code) }

func NewClient(o ClientOptions) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	hc := o.HTTP
	if hc == nil {
		tr := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		}
		hc = &http.Client{Timeout: o.Timeout, Transport: tr}
	}
	if o.RetryMax < 0 {
		o.RetryMax = 0
	}
	return &Client{
		hc:       hc,
		ua:       strings.TrimSpace(o.UserAgent),
		rps:      o.RatePerSec,
		retryMax: o.RetryMax,
		log:      o.Log.Component("http"),
		limiters: map[string]*rate.Limiter{},
	}
}

func (c *Client) limiter(host string) *rate.Limiter {
	if c.rps <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.limiters[host]
	if l == nil {
		l = rate.NewLimiter(rate.Limit(c.rps), 1)
		c.limiters[host] = l
	}
	return l
}

// Get returns the response body of a GET. A 204 yields ErrNotAvailable.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, "")
}

// GetJSON decodes a GET response into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	b, err := c.do(ctx, http.MethodGet, rawURL, nil, "application/json")
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return ErrNotAvailable
	}
	return json.Unmarshal(b, out)
}

// PostJSON sends in as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, rawURL string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	b, err := c.do(ctx, http.MethodPost, rawURL, body, "application/json")
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Document fetches and parses an HTML page.
func (c *Client) Document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	b, err := c.do(ctx, http.MethodGet, rawURL, nil, "text/html")
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(bytes.NewReader(b))
}

// Feed fetches and parses an RSS or Atom feed.
func (c *Client) Feed(ctx context.Context, rawURL string) (*gofeed.Feed, error) {
	b, err := c.do(ctx, http.MethodGet, rawURL, nil, "application/rss+xml, application/xml")
	if err != nil {
		return nil, err
	}
	return gofeed.NewParser().Parse(bytes.NewReader(b))
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, accept string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = retry(ctx, c.retryMax+1, 500*time.Millisecond, 8*time.Second, func() error {
		if l := c.limiter(u.Host); l != nil {
			if err := l.Wait(ctx); err != nil {
				return permanent(err)
			}
		}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
		if err != nil {
			return permanent(err)
		}
		if c.ua != "" {
			req.Header.Set("User-Agent", c.ua)
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		c.log.Trace("http request", logx.String("method", method), logx.String("host", u.Host),
			logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

		switch {
		case resp.StatusCode == http.StatusNoContent:
			return permanent(ErrNotAvailable)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
			return &StatusError{Code: resp.StatusCode}
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
			return permanent(&StatusError{Code: resp.StatusCode})
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func permanent(err error) error { return permanentError{err: err} }

// retry runs fn up to attempts times with jittered exponential backoff. An
// error wrapped by permanent stops immediately and is returned unwrapped.
func retry(ctx context.Context, attempts int, initial, maxDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	d := initial
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := d + time.Duration(rand.Int64N(int64(d/2)+1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			d = min(d*2, maxDelay)
		}
		err = fn()
		if err == nil {
			return nil
		}
		var p permanentError
		if errors.As(err, &p) {
			return p.err
		}
	}
	return err
}
