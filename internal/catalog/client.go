package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logx "scoutbot/pkg/logx"
)

const (
	DefaultBaseURL   = "https://yts.mx/api/v2/list_movies.json"
	DefaultTimeout   = 20 * time.Second
	DefaultUserAgent = "scoutbot/1.0"

	// maxBodyBytes caps the response body read; a page of 50 movies is well under this.
	maxBodyBytes = 4 << 20
)

// FetchError reports a transport or decode failure talking to the catalog.
// A non-ok upstream status is not a FetchError; it yields zero entries.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("catalog fetch %s: %v", e.URL, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches the most recently added movies. It holds no state beyond its
// HTTP client and never retries; the poller's next tick is the retry.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, hc *http.Client, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: hc, log: log}
}

// listURL builds <base>?sort_by=date_added&order_by=desc&limit=<n>, keeping any
// query parameters already present on the base URL.
func (c *Client) listURL(limit int) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("sort_by", "date_added")
	q.Set("order_by", "desc")
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchLatest returns up to limit movies, newest first.
func (c *Client) FetchLatest(ctx context.Context, limit int) ([]Movie, error) {
	if limit <= 0 {
		limit = 1
	}
	u, err := c.listURL(limit)
	if err != nil {
		return nil, &FetchError{URL: c.cfg.BaseURL, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		c.log.Warn("catalog returned non-success http status", logx.Int("http", resp.StatusCode), logx.String("url", u))
		return nil, nil
	}

	var out listResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, &FetchError{URL: u, Err: fmt.Errorf("decode: %w", err)}
	}
	if out.Status != "ok" {
		c.log.Warn("catalog returned non-ok status", logx.String("status", out.Status), logx.String("status_message", out.StatusMessage))
	}
	movies := out.movies()
	if len(movies) > limit {
		movies = movies[:limit]
	}
	return movies, nil
}
