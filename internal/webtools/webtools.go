// Package webtools implements the network tool primitive: a single, GET-only
// fetch with a per-call host allowlist that is re-checked on every redirect,
// a hard byte cap, charset-aware decoding and HTML sanitization.
package webtools

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"
)

// DefaultTimeout bounds the whole fetch including redirects.
const DefaultTimeout = 15 * time.Second

// FetchOptions configure one FetchURL call.
type FetchOptions struct {
	MaxBytes  int
	Allowlist []string
	Timeout   time.Duration

	// AllowQuery permits query strings on the initial URL and redirect
	// targets; MaxQueryChars caps their length when positive.
	AllowQuery    bool
	MaxQueryChars int
}

// FetchURL performs a GET request and returns the decoded, possibly
// sanitized body along with the response Content-Type. Every redirect target
// is validated against the same scheme and host rules as the initial URL.
func FetchURL(ctx context.Context, rawURL string, opts FetchOptions) (string, string, error) {
	if opts.MaxBytes <= 0 {
		return "", "", fmt.Errorf("web.fetch max_bytes must be positive")
	}
	if len(opts.Allowlist) == 0 {
		return "", "", fmt.Errorf("web.fetch allowlist must be provided")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("web.fetch failed: %v", err)
	}
	if err := ensureAllowedURL(parsed, opts, "url"); err != nil {
		return "", "", err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return ensureAllowedURL(req.URL, opts, "redirect")
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", "", fmt.Errorf("web.fetch failed: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("web.fetch failed: %v", err)
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(opts.MaxBytes)+1))
	if err != nil {
		return "", "", fmt.Errorf("web.fetch failed: %v", err)
	}
	if len(raw) > opts.MaxBytes {
		raw = raw[:opts.MaxBytes]
	}

	text := decodeBody(raw, contentType)
	if isHTML(contentType, text) {
		text = SanitizeHTML(text)
	}
	return text, contentType, nil
}

func ensureAllowedURL(u *url.URL, opts FetchOptions, context string) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("web.fetch failed: %s blocked to unsupported scheme: %s", context, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if !hostAllowed(host, opts.Allowlist) {
		return fmt.Errorf("web.fetch failed: %s blocked to disallowed host: %s", context, host)
	}
	if u.RawQuery != "" {
		if !opts.AllowQuery {
			return fmt.Errorf("web.fetch failed: %s blocked with query string", context)
		}
		if opts.MaxQueryChars > 0 && len(u.RawQuery) > opts.MaxQueryChars {
			return fmt.Errorf("web.fetch failed: %s query exceeds limit", context)
		}
	}
	return nil
}

func hostAllowed(host string, allowlist []string) bool {
	for _, entry := range allowlist {
		candidate := strings.ToLower(entry)
		if host == candidate || strings.HasSuffix(host, "."+candidate) {
			return true
		}
	}
	return false
}

// decodeBody converts the response bytes to UTF-8 using the charset from the
// Content-Type header, falling back to UTF-8 with replacement for unknown
// charsets or invalid input.
func decodeBody(raw []byte, contentType string) string {
	charset := extractCharset(contentType)
	if charset != "" && !strings.EqualFold(charset, "utf-8") {
		if enc, err := htmlindex.Get(charset); err == nil {
			if decoded, err := enc.NewDecoder().Bytes(raw); err == nil {
				return string(decoded)
			}
		}
	}
	return strings.ToValidUTF8(string(raw), "�")
}

func extractCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		return params["charset"]
	}
	return ""
}

func isHTML(contentType, text string) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body")
}
