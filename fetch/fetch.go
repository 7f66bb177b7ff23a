// Package fetch retrieves external resources referenced by book content.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"epubgen/config"
)

// Response is a successfully retrieved resource.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Fetcher retrieves resource by absolute URL. Non-success statuses are
// reported as *StatusError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// StatusError is returned when server answered with non-success status.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (%s) for %s", e.Status, http.StatusText(e.Status), e.URL)
}

// HTTP is a Fetcher backed by net/http client.
type HTTP struct {
	client        *http.Client
	userAgent     string
	authorization string
	log           *zap.Logger
}

// NewHTTP creates HTTP fetcher from configuration. Zero timeout means
// requests are bounded only by context.
func NewHTTP(cfg *config.FetchConfig, log *zap.Logger) *HTTP {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTP{
		client:        &http.Client{Timeout: cfg.Timeout},
		userAgent:     cfg.UserAgent,
		authorization: string(cfg.Authorization),
		log:           log.Named("fetch"),
	}
}

func (h *HTTP) Fetch(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to prepare request: %w", err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	if h.authorization != "" {
		req.Header.Set("Authorization", h.authorization)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so connection could be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read response for %s: %w", url, err)
	}

	h.log.Debug("Resource fetched",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// IsAbsolute reports whether url has http or https scheme - the only
// ones fetcher is able to retrieve.
func IsAbsolute(url string) bool {
	l := strings.ToLower(url)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// MediaType strips parameters from Content-Type header value.
func MediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// Text converts textual body into UTF-8 using charset from content type or
// detected from the body itself.
func (r *Response) Text() (string, error) {
	rd, err := charset.NewReader(bytes.NewReader(r.Body), r.ContentType)
	if err != nil {
		return "", fmt.Errorf("unable to detect charset: %w", err)
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return "", fmt.Errorf("unable to decode text: %w", err)
	}
	return string(data), nil
}
