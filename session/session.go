// Package session prepares browser pages for adversarial fetching and
// recovers them when they fail mid-navigation. Configuration order matters:
// viewport, identity, headers, then stealth patches, all before the first
// Navigate, because a page that has already run site scripts can no longer
// be disguised.
package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/stealth"
	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// Intent selects the navigation timeout class. Article pages are given more
// time than listing/source pages because paywalled articles often trickle in
// behind lazy hydration.
type Intent int

const (
	IntentArticle Intent = iota
	IntentSource
)

// Options carries per-fetch overrides on top of the configurator defaults.
type Options struct {
	// ExtraHeaders are merged over the stealth default header set; caller
	// values win on conflict.
	ExtraHeaders map[string]string

	// BlockResources and BlockAds are passed through to page creation.
	BlockResources []string
	BlockAds       bool
}

// Session is one configured page plus the identity it currently claims.
// Close is idempotent; the underlying page is released exactly once no
// matter how many paths reach Close.
type Session struct {
	page    browser.Page
	profile Profile
	intent  Intent
	timeout time.Duration
	closed  atomic.Bool
}

// Page exposes the underlying page for navigation and evaluation.
func (s *Session) Page() browser.Page { return s.page }

// Profile reports the identity the session currently presents.
func (s *Session) Profile() Profile { return s.profile }

// NavTimeout is the per-navigation budget chosen from the session's intent.
func (s *Session) NavTimeout() time.Duration { return s.timeout }

// Navigate loads the URL under the session's intent timeout.
func (s *Session) Navigate(ctx context.Context, url string, policy browser.WaitPolicy) error {
	return s.page.Navigate(ctx, url, policy, s.timeout)
}

// RotateProfile switches the session to a different identity. The new
// user-agent and headers apply to subsequent requests from the live page;
// navigator patches only take effect on the next navigation, which is fine
// for the challenge-retry flows that call this.
func (s *Session) RotateProfile(pool []Profile) error {
	next := pickProfile(pool, s.profile.UserAgent)
	if err := s.page.SetUserAgent(next.UserAgent); err != nil {
		return err
	}
	if err := s.page.SetExtraHeaders(stealthHeaders(next)); err != nil {
		return err
	}
	s.profile = next
	return nil
}

// Close releases the page. Safe to call from multiple cleanup paths.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if err := s.page.Close(); err != nil {
		slog.Debug("page close failed", "error", err)
	}
}

// Configurator builds sessions from a page pool and owns the profile
// rotation set.
type Configurator struct {
	pool     browser.Pool
	cfg      config.SessionConfig
	profiles []Profile
}

// NewConfigurator wires a configurator over the given pool. When the config
// supplies a user-agent list, profiles are derived from it; otherwise the
// builtin identity set is used.
func NewConfigurator(pool browser.Pool, cfg config.SessionConfig) *Configurator {
	profiles := builtinProfiles
	if len(cfg.UserAgents) > 0 {
		profiles = profilesFromUserAgents(cfg.UserAgents)
	}
	return &Configurator{pool: pool, cfg: cfg, profiles: profiles}
}

// Profiles returns the rotation set, for bypass flows that rotate identity
// on a live session.
func (c *Configurator) Profiles() []Profile { return c.profiles }

// Configure creates and fully prepares a page before any navigation:
//
//  1. viewport
//  2. rotated user-agent
//  3. merged stealth headers
//  4. intent timeout
//  5. stealth + navigator patches via EvalOnNewDocument
//
// Viewport, UA and header failures degrade with a warning; a failure to
// install stealth patches is fatal because the resulting page would be
// trivially detectable, and the half-built page is closed before returning.
func (c *Configurator) Configure(ctx context.Context, intent Intent, opts Options) (*Session, error) {
	page, err := c.pool.CreatePage(ctx, browser.PageConfig{
		BlockResources: opts.BlockResources,
		BlockAds:       opts.BlockAds,
	})
	if err != nil {
		return nil, err
	}

	profile := pickProfile(c.profiles, "")

	if err := page.SetViewport(c.cfg.ViewportWidth, c.cfg.ViewportHeight); err != nil {
		slog.Warn("viewport setup failed, continuing with browser default", "error", err)
	}
	if err := page.SetUserAgent(profile.UserAgent); err != nil {
		slog.Warn("user-agent override failed, continuing with browser default", "error", err)
	}

	headers := stealthHeaders(profile)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if err := page.SetExtraHeaders(headers); err != nil {
		slog.Warn("extra header setup failed, continuing without", "error", err)
	}

	timeout := c.cfg.SourceTimeout
	if intent == IntentArticle {
		timeout = c.cfg.ArticleTimeout
	}

	if !c.cfg.DisableStealth {
		if err := page.EvalOnNewDocument(stealth.JS); err != nil {
			page.Close()
			return nil, models.NewFetchError(models.ErrCodeInternal, "failed to install stealth patches", err)
		}
		if err := page.EvalOnNewDocument(navigatorPatchJS(profile)); err != nil {
			page.Close()
			return nil, models.NewFetchError(models.ErrCodeInternal, "failed to install navigator patches", err)
		}
	}

	return &Session{
		page:    page,
		profile: profile,
		intent:  intent,
		timeout: timeout,
	}, nil
}
