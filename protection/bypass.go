package protection

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/session"
	"github.com/use-agent/harvest/simhash"
)

// Challenge pages run timing checks; reacting instantly is itself a signal.
// The wait before interacting is randomized inside this window, and
// settleWait gives the challenge script time to verify and swap the page
// after interaction. Vars so tests can shrink them.
var (
	minChallengeWait = 1500 * time.Millisecond
	maxChallengeWait = 4 * time.Second
	settleWait       = 2 * time.Second
)

const (
	// structureChangeThreshold is the simhash Hamming distance above which
	// the DOM is considered structurally different from the challenge page.
	structureChangeThreshold = 3

	// minBypassedBytes guards the structural check: a page must carry real
	// content before a structure change counts as a successful bypass.
	minBypassedBytes = 2000
)

// interactionJS simulates organic user presence: a short randomized mouse
// path, a click, and a scroll down and back. Challenge verifiers watch for
// exactly these events.
const interactionJS = `() => {
	const fire = (type, x, y) => {
		const target = document.elementFromPoint(x, y) || document.body || document.documentElement;
		if (!target) return;
		target.dispatchEvent(new MouseEvent(type, {
			bubbles: true, cancelable: true, view: window, clientX: x, clientY: y,
		}));
	};
	const w = window.innerWidth || 1280;
	const h = window.innerHeight || 720;
	let x = Math.floor(w * 0.2);
	let y = Math.floor(h * 0.3);
	for (let i = 0; i < 8; i++) {
		x = Math.max(1, Math.min(w - 2, x + Math.floor((Math.random() - 0.4) * 120)));
		y = Math.max(1, Math.min(h - 2, y + Math.floor((Math.random() - 0.4) * 90)));
		fire('mousemove', x, y);
	}
	fire('mousedown', x, y);
	fire('mouseup', x, y);
	fire('click', x, y);
	window.scrollTo({ top: Math.floor(h * 0.4), behavior: 'smooth' });
	setTimeout(() => window.scrollTo({ top: 0, behavior: 'smooth' }), 300);
	return true;
}`

// BypassResult reports what one bypass attempt achieved.
type BypassResult struct {
	Succeeded bool
	Before    models.ProtectionSignal
	After     models.ProtectionSignal
	HTML      string // page content after the attempt
}

// Bypass makes exactly one attempt to clear a detected challenge on the
// session's current page: rotate identity, wait a randomized human-scale
// delay, interact, wait for the verifier, and re-check. The caller holds
// the one-attempt-per-navigation invariant; repeated attempts against the
// same challenge only raise the site's suspicion score.
//
// Success means the signal is gone, or the page grew into substantially
// different DOM structure (challenge pages are tiny and structurally
// static, so growth plus structural distance indicates the real page
// arrived even if a stale marker string lingers in a noscript block).
func Bypass(ctx context.Context, s *session.Session, profiles []session.Profile, before models.ProtectionSignal, beforeHTML string) (BypassResult, error) {
	res := BypassResult{Before: before, After: before, HTML: beforeHTML}

	if err := s.RotateProfile(profiles); err != nil {
		slog.Debug("profile rotation failed during bypass", "error", err)
	}

	if err := sleepCtx(ctx, challengeWait()); err != nil {
		return res, err
	}

	if _, err := s.Page().Eval(interactionJS); err != nil {
		slog.Debug("challenge interaction failed", "error", err)
	}

	if err := sleepCtx(ctx, settleWait); err != nil {
		return res, err
	}

	after, afterHTML := DetectPage(s.Page())
	res.After = after
	if afterHTML != "" {
		res.HTML = afterHTML
	}

	if !after.Present {
		res.Succeeded = true
	} else if structureImproved(beforeHTML, afterHTML) {
		res.Succeeded = true
	}

	slog.Info("bypass attempt finished",
		"kind", before.Kind,
		"succeeded", res.Succeeded,
		"beforeBytes", len(beforeHTML),
		"afterBytes", len(afterHTML))
	return res, nil
}

// structureImproved reports whether the page both grew meaningfully and
// changed DOM shape relative to the challenge snapshot.
func structureImproved(before, after string) bool {
	if len(after) < minBypassedBytes || len(after) <= len(before)*3/2 {
		return false
	}
	d := simhash.Distance(simhash.FingerprintDOM(before), simhash.FingerprintDOM(after))
	return d > structureChangeThreshold
}

func challengeWait() time.Duration {
	spread := maxChallengeWait - minChallengeWait
	return minChallengeWait + time.Duration(rand.Int63n(int64(spread)))
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
