// Package fetch runs the tiered retrieval ladder: plain HTTP, fingerprinted
// HTTP, then a stealth browser. Each tier is strictly cheaper than the next;
// escalation happens only when the previous tier's result is unusable. Fetch
// never returns an error: every outcome, including total failure, is a
// FetchResult carrying the best content seen and a diagnostic.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/dynamic"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/session"
	"github.com/use-agent/harvest/tlsclient"
	"github.com/use-agent/harvest/validate"
)

// errTransport marks connection-level failures (refused, reset, timed out)
// that warrant one more try on the same tier before escalating. Bad
// responses and platform gaps escalate immediately.
var errTransport = errors.New("transport error")

// httpAttempt is what the HTTP tiers report back.
type httpAttempt struct {
	html      string
	status    int
	finalURL  string
	redirects []string
}

// browserAttempt is what the browser tier reports back.
type browserAttempt struct {
	html       string
	finalURL   string
	degraded   bool
	protection models.ProtectionSignal
	blocked    bool
	verdict    models.ValidationVerdict
}

// Fetcher orchestrates the three tiers. The tier functions are fields so
// tests can substitute them; production wiring installs the real ones.
type Fetcher struct {
	cfg       config.FetchConfig
	validator *validate.Validator
	sessions  *session.Configurator
	tls       *tlsclient.Manager

	direct   func(ctx context.Context, url string) (*httpAttempt, error)
	enhanced func(ctx context.Context, url string) (*httpAttempt, error)
	browse   func(ctx context.Context, req models.FetchRequest) (*browserAttempt, error)
}

// New wires a Fetcher over its collaborators.
func New(cfg config.FetchConfig, validator *validate.Validator, sessions *session.Configurator, tls *tlsclient.Manager) *Fetcher {
	f := &Fetcher{cfg: cfg, validator: validator, sessions: sessions, tls: tls}
	f.direct = f.directFetch
	f.enhanced = f.enhancedFetch
	f.browse = f.browserFetch
	return f
}

// Fetch retrieves the URL, escalating through the tiers in order. The
// request's budget (or the configured default) bounds the whole ladder.
func (f *Fetcher) Fetch(ctx context.Context, req models.FetchRequest) models.FetchResult {
	start := time.Now()

	budget := req.TimeoutBudget
	if budget <= 0 {
		budget = f.cfg.DefaultBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	// best tracks the largest content seen so far; a failed fetch still
	// returns it so callers can salvage something.
	var best models.FetchResult
	var diag string

	keepBest := func(html, finalURL string, status int, redirects []string, tier models.Tier) {
		if len(html) > len(best.HTML) {
			best = models.FetchResult{
				HTML:          html,
				TierUsed:      tier,
				StatusCode:    status,
				FinalURL:      finalURL,
				RedirectChain: redirects,
			}
		}
	}
	finish := func(r models.FetchResult) models.FetchResult {
		r.ResponseTimeMs = time.Since(start).Milliseconds()
		return r
	}
	fail := func() models.FetchResult {
		r := best
		r.Success = false
		r.Diagnostic = diag
		if r.TierUsed == "" {
			r.TierUsed = models.TierBrowser
		}
		slog.Warn("fetch failed on every tier", "url", req.URL, "diagnostic", diag)
		return finish(r)
	}

	// Tier 1: plain HTTP.
	if att, err := retryTransport(ctx, req.URL, f.direct); err != nil {
		diag = fmt.Sprintf("direct: %v", err)
		slog.Debug("direct tier failed", "url", req.URL, "error", err)
	} else {
		keepBest(att.html, att.finalURL, att.status, att.redirects, models.TierDirectHTTP)
		switch {
		case len(att.html) < f.cfg.MinAcceptBytes:
			diag = fmt.Sprintf("direct: body too short (%d bytes)", len(att.html))
		case !dynamic.NeedsDynamicLoading(att.html, req.URL) || len(att.html) > f.cfg.SubstantialBytes:
			slog.Info("fetch served by direct tier", "url", req.URL, "bytes", len(att.html))
			return finish(models.FetchResult{
				HTML:          att.html,
				Success:       true,
				TierUsed:      models.TierDirectHTTP,
				StatusCode:    att.status,
				FinalURL:      att.finalURL,
				RedirectChain: att.redirects,
			})
		default:
			diag = "direct: dynamic loading suspected"
		}
	}
	if ctx.Err() != nil {
		diag = fmt.Sprintf("budget exhausted after direct tier: %v", ctx.Err())
		return fail()
	}

	// Tier 2: fingerprinted HTTP. Unavailable (nil client) just skips ahead.
	if att, err := retryTransport(ctx, req.URL, f.enhanced); err != nil {
		if !errors.Is(err, errTLSUnavailable) {
			diag = fmt.Sprintf("enhanced: %v", err)
		}
		slog.Debug("enhanced tier skipped or failed", "url", req.URL, "error", err)
	} else {
		keepBest(att.html, att.finalURL, att.status, att.redirects, models.TierEnhancedHTTP)
		ok, reason := f.acceptEnhanced(att, req)
		if ok {
			slog.Info("fetch served by enhanced tier", "url", req.URL, "bytes", len(att.html))
			return finish(models.FetchResult{
				HTML:          att.html,
				Success:       true,
				TierUsed:      models.TierEnhancedHTTP,
				StatusCode:    att.status,
				FinalURL:      att.finalURL,
				RedirectChain: att.redirects,
			})
		}
		diag = "enhanced: " + reason
	}
	if ctx.Err() != nil {
		diag = fmt.Sprintf("budget exhausted after enhanced tier: %v", ctx.Err())
		return fail()
	}

	// Tier 3: browser, with one retry after a disconnect-driven restart.
	att, err := f.browse(ctx, req)
	if errors.Is(err, session.ErrBrowserRestarted) {
		slog.Info("retrying browser tier after restart", "url", req.URL)
		if sleepCtx(ctx, f.cfg.DisconnectBackoff) == nil {
			att, err = f.browse(ctx, req)
		}
	}
	if err != nil {
		diag = fmt.Sprintf("browser: %v", err)
		return fail()
	}

	keepBest(att.html, att.finalURL, 0, nil, models.TierBrowser)
	ok, reason := f.acceptBrowser(att, req)
	if ok {
		slog.Info("fetch served by browser tier",
			"url", req.URL, "bytes", len(att.html), "degraded", att.degraded)
		return finish(models.FetchResult{
			HTML:     att.html,
			Success:  true,
			TierUsed: models.TierBrowser,
			FinalURL: att.finalURL,
		})
	}
	diag = "browser: " + reason
	return fail()
}

// acceptEnhanced decides whether a Tier-2 body is good enough: long enough,
// not a dynamic shell, and (for source pages) carrying enough usable links.
func (f *Fetcher) acceptEnhanced(att *httpAttempt, req models.FetchRequest) (bool, string) {
	if len(att.html) < f.cfg.MinAcceptBytes {
		return false, fmt.Sprintf("body too short (%d bytes)", len(att.html))
	}
	if dynamic.NeedsDynamicLoading(att.html, req.URL) && len(att.html) <= f.cfg.SubstantialBytes {
		return false, "dynamic loading suspected"
	}
	if req.IsArticleHint {
		return true, ""
	}
	verdict := f.validator.Validate(att.html, req.URL)
	if verdict.IsErrorPage {
		return false, fmt.Sprintf("error page (%s)", verdict.ErrorKind)
	}
	usable := verdict.LinkCount - int(verdict.ErrorLinkRatio*float64(verdict.LinkCount))
	if usable < f.cfg.MinUsableLinks {
		return false, fmt.Sprintf("only %d usable links", usable)
	}
	return true, ""
}

// acceptBrowser is the final acceptance gate. Article pages are judged on
// content presence, source pages on the full validation verdict.
func (f *Fetcher) acceptBrowser(att *browserAttempt, req models.FetchRequest) (bool, string) {
	if att.blocked {
		return false, fmt.Sprintf("%s: protection not bypassed (%s)", models.ErrCodeProtection, att.protection.Kind)
	}
	if att.verdict.IsErrorPage {
		return false, fmt.Sprintf("%s: error page (%s)", models.ErrCodeValidation, att.verdict.ErrorKind)
	}
	if req.IsArticleHint {
		if len(att.html) < f.cfg.MinAcceptBytes {
			return false, fmt.Sprintf("%s: article body too short (%d bytes)", models.ErrCodeValidation, len(att.html))
		}
		return true, ""
	}
	if !att.verdict.IsValid {
		return false, fmt.Sprintf("%s: %v", models.ErrCodeValidation, att.verdict.Issues)
	}
	return true, ""
}

// retryTransport runs one HTTP tier, retrying exactly once when the failure
// is connection-level. Anything else, including a served error response,
// escalates to the next tier on the first attempt.
func retryTransport(ctx context.Context, url string, tier func(context.Context, string) (*httpAttempt, error)) (*httpAttempt, error) {
	att, err := tier(ctx, url)
	if err == nil || !errors.Is(err, errTransport) || ctx.Err() != nil {
		return att, err
	}
	slog.Debug("retrying tier after transport error", "url", url, "error", err)
	return tier(ctx, url)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
