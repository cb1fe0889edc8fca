package scanner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	logx "scoutbot/pkg/logx"
)

const (
	DefaultBaseURL        = "https://paste.compucalitv.lol/?v="
	DefaultUndesiredTitle = "DESCARGAS, PELICULAS Y SERIES"
	DefaultDelay          = 2 * time.Second
	DefaultTimeout        = 20 * time.Second

	maxPageBytes = 2 << 20
)

type Config struct {
	// BaseURL is concatenated with each expanded value.
	BaseURL        string
	UndesiredTitle string
	Delay          time.Duration
	Timeout        time.Duration
	UserAgent      string
}

// Hit is a probed page whose title is non-empty and not the undesired marker.
type Hit struct {
	URL   string
	Title string
}

type Summary struct {
	Probed int
	Hits   int
	Failed int
}

// Scanner probes pattern ranges sequentially. It keeps no per-scan state and
// may be shared.
type Scanner struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, hc *http.Client, log logx.Logger) *Scanner {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UndesiredTitle == "" {
		cfg.UndesiredTitle = DefaultUndesiredTitle
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scanner{cfg: cfg, http: hc, log: log}
}

// Scan probes every URL of p in order and calls report for each hit. Fetch
// errors are logged and skipped. It returns ctx.Err() if cancelled midway.
func (s *Scanner) Scan(ctx context.Context, p Pattern, report func(Hit)) (Summary, error) {
	var sum Summary
	values := p.Expand()
	for i, v := range values {
		if i > 0 && s.cfg.Delay > 0 {
			t := time.NewTimer(s.cfg.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return sum, ctx.Err()
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		u := s.cfg.BaseURL + v
		s.log.Debug("probing", logx.String("url", u))
		sum.Probed++
		title, err := s.Title(ctx, u)
		if err != nil {
			sum.Failed++
			s.log.Warn("probe failed", logx.String("url", u), logx.Err(err))
			continue
		}
		if title == "" || title == s.cfg.UndesiredTitle {
			continue
		}
		sum.Hits++
		if report != nil {
			report(Hit{URL: u, Title: title})
		}
	}
	return sum, nil
}

// Title fetches u and returns the trimmed text of its first <title>, or "".
func (s *Scanner) Title(ctx context.Context, u string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return "", err
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}
