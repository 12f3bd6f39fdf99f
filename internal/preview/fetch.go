package preview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/sundayezeilo/linkshare/internal/errx"
)

// FetcherConfig bounds a single preview fetch.
type FetcherConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	MaxRedirects int
	UserAgent    string
	// AllowPrivate disables the public-address check on the default transport.
	AllowPrivate bool
	// Transport replaces the default transport and its address check.
	Transport    http.RoundTripper
}

// Fetcher performs bounded HTTP GETs and extracts a Preview from the response.
type Fetcher struct {
	client    *http.Client
	maxBody   int64
	userAgent string
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "linkshare-preview/1.0"
	}

	if cfg.Transport == nil {
		cfg.Transport = newTransport(cfg.AllowPrivate)
	}

	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: cfg.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
			}
			return nil
		},
	}

	return &Fetcher{client: client, maxBody: cfg.MaxBodyBytes, userAgent: cfg.UserAgent}
}

// Fetch downloads rawURL and parses its head. Any transport, status or content-type
// problem is reported as an Unavailable error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Preview, error) {
	const op = "preview.fetcher.Fetch"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Preview{}, errx.E(op, errx.Invalid, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return Preview{}, errx.E(op, errx.Unavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Preview{}, errx.E(op, errx.Unavailable, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); contentType != "" && (err != nil || !isHTML(mediaType)) {
		return Preview{}, errx.E(op, errx.Unavailable, fmt.Errorf("unsupported content type %q", contentType))
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBody), contentType)
	if err != nil {
		return Preview{}, errx.E(op, errx.Unavailable, err)
	}

	p := parseHead(body, resp.Request.URL)
	if p.Empty() {
		return p, errx.E(op, errx.Unavailable, errors.New("page has no usable metadata"))
	}
	return p, nil
}

func isHTML(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
