package fetch

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/use-agent/harvest/tlsclient"
)

// errTLSUnavailable means the fingerprinted client cannot run on this
// platform. The tier is skipped, not failed.
var errTLSUnavailable = errors.New("tls-fingerprint client unavailable")

// enhancedFetch is Tier 2: the same GET issued through a TLS-fingerprinted
// client with a full browser header set. Defeats blocks keyed on TLS
// handshake shape or thin header sets.
func (f *Fetcher) enhancedFetch(ctx context.Context, rawURL string) (*httpAttempt, error) {
	profile := f.sessions.Profiles()[0]

	handle := f.tls.GetClient(tlsclient.ClientConfig{
		UserAgent: profile.UserAgent,
		Preset:    "chrome",
		Timeout:   f.cfg.EnhancedTimeout,
	})
	if handle == nil {
		return nil, errTLSUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", profile.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", profile.AcceptLanguage)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range profile.Headers {
		req.Header.Set(k, v)
	}

	resp, err := handle.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errTransport, err)
	}
	defer resp.Body.Close()

	// Accept-Encoding was set by hand, so decoding is ours too.
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "gzip":
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			return nil, fmt.Errorf("gzip body: %w", gzErr)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errTransport, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	return &httpAttempt{
		html:      string(body),
		status:    resp.StatusCode,
		finalURL:  resp.Request.URL.String(),
		redirects: redirectChain(resp),
	}, nil
}

// redirectChain reconstructs the redirect hops from the request chain that
// net/http threads through Request.Response. The pooled client is shared, so
// the hops are read off the response instead of a per-call CheckRedirect.
func redirectChain(resp *http.Response) []string {
	var hops []string
	for r := resp.Request; r != nil && r.Response != nil; r = r.Response.Request {
		hops = append(hops, r.URL.String())
	}
	// Walked newest hop first; restore request order.
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return hops
}
