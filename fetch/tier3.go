package fetch

import (
	"context"
	"log/slog"

	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/dynamic"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/protection"
	"github.com/use-agent/harvest/session"
)

// browserFetch is Tier 3: a fully configured stealth session. Navigation
// faults go through the session recovery machine; a disconnect surfaces as
// session.ErrBrowserRestarted so Fetch can retry the whole attempt once.
func (f *Fetcher) browserFetch(ctx context.Context, req models.FetchRequest) (*browserAttempt, error) {
	intent := session.IntentSource
	if req.IsArticleHint {
		intent = session.IntentArticle
	}

	s, err := f.sessions.Configure(ctx, intent, session.Options{BlockAds: true})
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if navErr := s.Navigate(ctx, req.URL, browser.WaitDOMStable); navErr != nil {
		rec, recErr := f.sessions.RecoverNavigation(ctx, s, req.URL, navErr)
		if recErr != nil {
			return nil, recErr
		}
		// Salvaged content skips protection/dynamic work: the page that
		// produced it is gone.
		return &browserAttempt{
			html:     rec.HTML,
			finalURL: s.Page().CurrentURL(),
			degraded: true,
			verdict:  f.validator.Validate(rec.HTML, req.URL),
		}, nil
	}

	sig, html := protection.DetectPage(s.Page())
	att := &browserAttempt{protection: sig}
	if sig.Present {
		slog.Info("protection challenge detected",
			"url", req.URL, "kind", sig.Kind, "confidence", sig.Confidence)
		res, bypassErr := protection.Bypass(ctx, s, f.sessions.Profiles(), sig, html)
		if bypassErr != nil {
			return nil, bypassErr
		}
		html = res.HTML
		att.protection = res.After
		if !res.Succeeded {
			att.html = html
			att.finalURL = s.Page().CurrentURL()
			att.blocked = true
			att.verdict = f.validator.Validate(html, req.URL)
			return att, nil
		}
	}

	if dynamic.NeedsDynamicLoading(html, req.URL) {
		dynamic.Resolve(ctx, s.Page(), req.URL)
		if resolved, htmlErr := s.Page().HTML(); htmlErr == nil && len(resolved) > len(html) {
			html = resolved
		}
	}

	att.html = html
	att.finalURL = s.Page().CurrentURL()
	att.verdict = f.validator.Validate(html, req.URL)
	return att, nil
}
