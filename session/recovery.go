package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/models"
)

// ErrBrowserRestarted signals that the browser process was replaced after a
// disconnect fault. The caller's session is dead; a fresh session against
// the new process is required.
var ErrBrowserRestarted = errors.New("browser restarted after disconnect")

// minRecoveredBytes is the smallest salvage worth returning. Anything
// shorter is indistinguishable from an about:blank shell.
const minRecoveredBytes = 500

// FaultClass partitions navigation errors by what recovery is possible.
type FaultClass int

const (
	// FaultNone: not a recognized browser fault (timeouts, DNS, HTTP
	// errors). The error propagates untouched.
	FaultNone FaultClass = iota

	// FaultFrameDetached: the page's frame was torn down mid-navigation,
	// typically by an anti-bot redirect chain. The browser itself is
	// healthy and content may already be loaded.
	FaultFrameDetached

	// FaultBrowserGone: the browser process or its devtools connection
	// died. Nothing on the old process is salvageable.
	FaultBrowserGone
)

var frameDetachMarkers = []string{
	"frame detached",
	"frame was detached",
	"navigating frame was detached",
	"execution context was destroyed",
	"cannot find context with specified id",
}

var disconnectMarkers = []string{
	"target closed",
	"session closed",
	"browser has been closed",
	"connection closed",
	"use of closed network connection",
	"websocket: close",
	"connection reset by peer",
	"broken pipe",
	"context deadline exceeded while connecting",
}

// ClassifyFault maps a navigation error onto a fault class by message
// inspection. The devtools protocol does not surface typed errors for
// these conditions, so substring matching is the only portable signal.
func ClassifyFault(err error) FaultClass {
	if err == nil {
		return FaultNone
	}
	msg := strings.ToLower(err.Error())
	for _, m := range frameDetachMarkers {
		if strings.Contains(msg, m) {
			return FaultFrameDetached
		}
	}
	for _, m := range disconnectMarkers {
		if strings.Contains(msg, m) {
			return FaultBrowserGone
		}
	}
	return FaultNone
}

// Recovered is salvaged page content. Degraded marks content captured from
// a torn-down frame, which may be missing late-loading fragments.
type Recovered struct {
	HTML     string
	Degraded bool
	Step     string
}

// RecoverNavigation attempts to salvage a failed navigation on the given
// session. Frame-detach faults walk three escalating steps:
//
//  1. read the HTML already loaded in the detached frame
//  2. serialize the live DOM through script evaluation
//  3. re-fetch on a fresh page with a short timeout and no load wait
//
// The first step that yields at least minRecoveredBytes wins and is
// reported as degraded content. Disconnect faults restart the browser
// process and return ErrBrowserRestarted so the caller retries against the
// new process. All other errors pass through unchanged.
func (c *Configurator) RecoverNavigation(ctx context.Context, s *Session, url string, fault error) (*Recovered, error) {
	switch ClassifyFault(fault) {
	case FaultFrameDetached:
		return c.recoverFrameDetach(ctx, s, url, fault)
	case FaultBrowserGone:
		slog.Warn("browser disconnect detected, restarting", "url", url, "error", fault)
		if err := c.pool.RestartBrowser(ctx); err != nil {
			return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "browser restart failed", err)
		}
		return nil, ErrBrowserRestarted
	default:
		return nil, fault
	}
}

func (c *Configurator) recoverFrameDetach(ctx context.Context, s *Session, url string, fault error) (*Recovered, error) {
	slog.Info("frame detached mid-navigation, attempting salvage", "url", url)

	// Step 1: the frame may have finished loading before detaching.
	if html, err := s.page.HTML(); err == nil && len(html) >= minRecoveredBytes {
		slog.Info("recovered detached frame via loaded content", "bytes", len(html))
		return &Recovered{HTML: html, Degraded: true, Step: "loaded_content"}, nil
	}

	// Step 2: HTML serialization failed but the execution context may
	// still answer script evaluation.
	if v, err := s.page.Eval(`() => document.documentElement ? document.documentElement.outerHTML : ""`); err == nil {
		if html := v.Str(); len(html) >= minRecoveredBytes {
			slog.Info("recovered detached frame via DOM serialization", "bytes", len(html))
			return &Recovered{HTML: html, Degraded: true, Step: "dom_serialize"}, nil
		}
	}

	// Step 3: one retry on a fresh page, short budget, no load wait.
	// Whatever committed by then is the best available.
	fresh, err := c.pool.CreatePage(ctx, browser.PageConfig{})
	if err != nil {
		return nil, fault
	}
	defer fresh.Close()

	if err := fresh.Navigate(ctx, url, browser.WaitNone, c.cfg.RecoveryTimeout); err != nil {
		slog.Debug("fresh-page retry failed", "error", err)
		return nil, fault
	}
	if html, err := fresh.HTML(); err == nil && len(html) >= minRecoveredBytes {
		slog.Info("recovered detached frame via fresh page", "bytes", len(html))
		return &Recovered{HTML: html, Degraded: true, Step: "fresh_page"}, nil
	}
	return nil, fault
}
