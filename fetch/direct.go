package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxBodyBytes caps how much of any response is read. Pages past this size
// are truncated rather than ballooning memory.
const maxBodyBytes = 10 << 20

// directFetch is Tier 1: a plain GET with ordinary browser-ish headers and
// no TLS fingerprinting. Cheap, fast, and sufficient for most of the web.
func (f *Fetcher) directFetch(ctx context.Context, rawURL string) (*httpAttempt, error) {
	var redirects []string
	client := &http.Client{
		Timeout: f.cfg.DirectTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects = append(redirects, req.URL.String())
			if len(via) >= 10 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	profile := f.sessions.Profiles()[0]
	req.Header.Set("User-Agent", profile.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", profile.AcceptLanguage)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errTransport, err)
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "html") && !strings.Contains(ct, "text") {
		return nil, fmt.Errorf("non-HTML content type %q", ct)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	return &httpAttempt{
		html:      string(body),
		status:    resp.StatusCode,
		finalURL:  resp.Request.URL.String(),
		redirects: redirects,
	}, nil
}
