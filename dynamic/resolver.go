package dynamic

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/use-agent/harvest/browser"
)

// Resolution tuning. Vars so tests can shrink the waits.
var (
	// quiescenceCeiling bounds the initial wait for the page to settle.
	quiescenceCeiling = 3 * time.Second
	quiescencePoll    = 250 * time.Millisecond

	// scrollPause separates the staged scroll steps so lazy loaders have a
	// frame to react in.
	scrollPause = 400 * time.Millisecond

	// skeletonCeiling bounds the final wait for loading placeholders to
	// disappear. Timeout is tolerated.
	skeletonCeiling = 10 * time.Second
	skeletonPoll    = 500 * time.Millisecond
)

const (
	// maxLoadMoreClicks bounds pagination triggering per resolution.
	maxLoadMoreClicks = 3

	// primaryPayloadBytes is the injected-payload size at which endpoint
	// fetching stops early for a primary-content endpoint.
	primaryPayloadBytes = 5000
)

// fallbackEndpoints are well-known content paths tried when the page offers
// no endpoint hints of its own.
var fallbackEndpoints = []string{
	"/api/posts",
	"/api/articles",
	"/api/content",
	"/api/v1/posts",
	"/wp-json/wp/v2/posts",
	"/feed/json",
}

var primaryPathWords = []string{"post", "article", "content", "news", "stor"}
var topicPathWords = []string{"topic", "categor", "section", "tag", "feed", "channel"}

// Resolve mutates the live page in place to materialize dynamically loaded
// content: settle wait, ranked endpoint injection, bounded load-more
// triggering, staged scroll, and a final skeleton wait. Every step is
// best-effort; the caller re-validates the page afterward. Injected content
// is only ever appended, never removed.
func Resolve(ctx context.Context, page browser.Page, pageURL string) {
	start := time.Now()

	waitQuiescent(ctx, page)

	keyword := contextKeyword(pageURL)
	endpoints := rankEndpoints(discoverEndpoints(page), keyword)
	injected := fetchAndInject(ctx, page, endpoints, keyword)

	clicks := triggerLoadMore(ctx, page)
	stagedScroll(ctx, page)
	waitSkeletonsGone(ctx, page)

	slog.Info("dynamic resolution finished",
		"url", pageURL,
		"endpointsTried", len(endpoints),
		"injectedBytes", injected,
		"loadMoreClicks", clicks,
		"elapsed", time.Since(start).Round(time.Millisecond))
}

// waitQuiescent polls document readiness up to the ceiling. Pages that never
// reach "complete" are simply resolved against their current state.
func waitQuiescent(ctx context.Context, page browser.Page) {
	deadline := time.Now().Add(quiescenceCeiling)
	for time.Now().Before(deadline) {
		v, err := page.Eval(`() => document.readyState`)
		if err == nil && v.Str() == "complete" {
			return
		}
		if sleepCtx(ctx, quiescencePoll) != nil {
			return
		}
	}
}

// discoverEndpoints collects in-page hints naming fetchable paths and unions
// them with the fallback list. Hints rank ahead of fallbacks at equal score.
func discoverEndpoints(page browser.Page) []string {
	v, err := page.Eval(`() => {
		const hints = [];
		const attrs = ['data-endpoint', 'data-api', 'data-api-url', 'data-fetch-url', 'data-load-url'];
		for (const el of document.querySelectorAll(attrs.map(a => '[' + a + ']').join(','))) {
			for (const a of attrs) {
				const val = el.getAttribute(a);
				if (val && val.startsWith('/') && !hints.includes(val)) hints.push(val);
			}
		}
		return hints;
	}`)
	var endpoints []string
	seen := make(map[string]bool)
	if err == nil {
		for _, h := range v.Arr() {
			if ep := h.Str(); ep != "" && !seen[ep] {
				seen[ep] = true
				endpoints = append(endpoints, ep)
			}
		}
	}
	for _, ep := range fallbackEndpoints {
		if !seen[ep] {
			seen[ep] = true
			endpoints = append(endpoints, ep)
		}
	}
	return endpoints
}

// rankEndpoints orders candidates: the page's context keyword first, then
// primary content paths, then topic/category paths, then the rest. The sort
// is stable so discovery order breaks ties.
func rankEndpoints(endpoints []string, keyword string) []string {
	ranked := make([]string, len(endpoints))
	copy(ranked, endpoints)
	sort.SliceStable(ranked, func(i, j int) bool {
		return endpointScore(ranked[i], keyword) < endpointScore(ranked[j], keyword)
	})
	return ranked
}

func endpointScore(endpoint, keyword string) int {
	ep := strings.ToLower(endpoint)
	switch {
	case keyword != "" && strings.Contains(ep, keyword):
		return 0
	case containsAny(ep, primaryPathWords):
		return 1
	case containsAny(ep, topicPathWords):
		return 2
	default:
		return 3
	}
}

// contextKeyword extracts the first alphabetic path segment of the page URL,
// e.g. "technology" from /technology/2024/story-slug.
func contextKeyword(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	for _, seg := range strings.Split(u.Path, "/") {
		seg = strings.ToLower(strings.TrimSpace(seg))
		if len(seg) < 3 {
			continue
		}
		alphabetic := true
		for _, r := range seg {
			if (r < 'a' || r > 'z') && r != '-' {
				alphabetic = false
				break
			}
		}
		if alphabetic {
			return seg
		}
	}
	return ""
}

// fetchAndInject fetches ranked endpoints from inside the page (so cookies,
// origin and fingerprint all match the session) and appends each non-trivial
// payload to the document. Stops early once a primary-content endpoint
// returns a large payload.
func fetchAndInject(ctx context.Context, page browser.Page, endpoints []string, keyword string) int {
	total := 0
	for _, ep := range endpoints {
		if ctx.Err() != nil {
			return total
		}
		v, err := page.Eval(`async (endpoint) => {
			try {
				const res = await fetch(endpoint, {
					credentials: 'same-origin',
					headers: { 'Accept': 'text/html, application/json;q=0.9' },
				});
				if (!res.ok) return 0;
				const text = await res.text();
				if (!text || text.length < 200) return 0;
				const holder = document.createElement('div');
				holder.setAttribute('data-resolved-endpoint', endpoint);
				holder.innerHTML = text;
				document.body.appendChild(holder);
				return text.length;
			} catch (e) {
				return 0;
			}
		}`, ep)
		if err != nil {
			slog.Debug("endpoint fetch failed", "endpoint", ep, "error", err)
			continue
		}
		size := v.Int()
		total += size
		if size >= primaryPayloadBytes && endpointScore(ep, keyword) <= 1 {
			break
		}
	}
	return total
}

// triggerLoadMore clicks visible "load more"-style controls, bounded and
// excluding filter/search/sort controls so the result scope is never
// mutated.
func triggerLoadMore(ctx context.Context, page browser.Page) int {
	v, err := page.Eval(fmt.Sprintf(`() => {
		const skip = /(filter|search|sort|subscribe|sign|login|comment|share)/i;
		const want = /(load[ _-]?more|show[ _-]?more|view[ _-]?more|more (stories|posts|articles|results)|fetch[ _-]?more)/i;
		let clicked = 0;
		for (const el of document.querySelectorAll('button, a[role="button"], [data-load-more], .load-more, .show-more')) {
			if (clicked >= %d) break;
			const label = [el.textContent, el.className, el.id, el.getAttribute('data-load-more')].join(' ');
			if (skip.test(label) || !want.test(label)) continue;
			const rect = el.getBoundingClientRect();
			if (rect.width === 0 && rect.height === 0) continue;
			el.click();
			clicked++;
		}
		return clicked;
	}`, maxLoadMoreClicks))
	if err != nil {
		return 0
	}
	clicks := v.Int()
	if clicks > 0 {
		_ = sleepCtx(ctx, scrollPause)
	}
	return clicks
}

// stagedScroll walks the page in quarters to fire lazy loaders, then
// restores the top so extraction sees the document from its start.
func stagedScroll(ctx context.Context, page browser.Page) {
	for _, pct := range []int{25, 50, 75, 100} {
		_, err := page.Eval(`(pct) => {
			const h = Math.max(document.body ? document.body.scrollHeight : 0,
				document.documentElement ? document.documentElement.scrollHeight : 0);
			window.scrollTo(0, Math.floor(h * pct / 100));
			return true;
		}`, pct)
		if err != nil {
			slog.Debug("scroll step failed", "pct", pct, "error", err)
			return
		}
		if sleepCtx(ctx, scrollPause) != nil {
			return
		}
	}
	_, _ = page.Eval(`() => { window.scrollTo(0, 0); return true; }`)
}

// waitSkeletonsGone polls for loading placeholders until they disappear or
// the ceiling passes. A timeout is not an error.
func waitSkeletonsGone(ctx context.Context, page browser.Page) {
	deadline := time.Now().Add(skeletonCeiling)
	for time.Now().Before(deadline) {
		v, err := page.Eval(`() => document.querySelectorAll(
			'.skeleton, .shimmer, .spinner, .loading-indicator, .is-loading, [aria-busy="true"]').length`)
		if err != nil || v.Int() == 0 {
			return
		}
		if sleepCtx(ctx, skeletonPoll) != nil {
			return
		}
	}
	slog.Debug("loading indicators still present after wait ceiling")
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
