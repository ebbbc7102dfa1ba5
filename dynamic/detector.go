// Package dynamic decides whether a page's real content only arrives after
// client-side script execution, and coaxes that content out of a live page.
// The detector is pure so the orchestrator can run it on raw HTTP bytes
// before deciding to pay for a browser.
package dynamic

import (
	"strings"

	"golang.org/x/net/html"
)

// substantialBytes mirrors the orchestrator's substantial-content threshold.
// Above it, only structural signals are trusted: big pages full of weak SPA
// markers are usually fine as fetched, and discarding them wastes a browser.
const substantialBytes = 50_000

// minAnchors is the anchor count below which a page is assumed to be an
// unhydrated shell regardless of its size.
const minAnchors = 5

// frameworkMarkers are high-confidence signs that markup is a client-side
// render target, trusted alone at any content size.
var frameworkMarkers = []string{
	"__next_data__",
	"window.__nuxt__",
	"id=\"___gatsby\"",
	"ng-version=",
	"data-reactroot=\"\"",
	"data-widget-lazyload",
}

// spaMarkers are weaker single-page-app hints, only trusted below the
// substantial threshold.
var spaMarkers = []string{
	"window.__initial_state__",
	"window.__preloaded_state__",
	"window.__apollo_state__",
	"id=\"root\"",
	"id=\"app\"",
	"v-cloak",
}

// lazyMarkers name infinite-scroll / lazy-load affordances.
var lazyMarkers = []string{
	"infinite-scroll",
	"infinite_scroll",
	"lazy-load",
	"lazyload",
	"load-more",
	"loadmore",
}

// loadingMarkers name visible loading-state placeholders.
var loadingMarkers = []string{
	"skeleton",
	"shimmer",
	"spinner",
	"placeholder-glow",
	"loading-indicator",
	"aria-busy=\"true\"",
	"is-loading",
}

// contentContainerNames are id/class fragments that mark the element where
// primary content is supposed to live.
var contentContainerNames = []string{
	"content", "main", "article", "post", "feed", "stories", "items", "results", "river",
}

// NeedsDynamicLoading reports whether the given raw HTML likely needs a
// browser to materialize its content. Pure: same inputs, same answer.
//
// Strong signals (framework render targets, fewer than five anchors, an
// empty content container next to loading placeholders) fire at any size.
// Weak signals (generic SPA state objects, lazy-load class names paired
// with loading markers) only fire when the content is not already
// substantial.
func NeedsDynamicLoading(htmlStr, pageURL string) bool {
	lower := strings.ToLower(htmlStr)
	shape := analyzeShape(lower)

	if containsAny(lower, frameworkMarkers) {
		return true
	}
	if shape.anchors < minAnchors {
		return true
	}
	if shape.emptyContainers > 0 && containsAny(lower, loadingMarkers) {
		return true
	}

	if len(htmlStr) > substantialBytes {
		return false
	}

	if containsAny(lower, spaMarkers) {
		return true
	}
	if containsAny(lower, lazyMarkers) && containsAny(lower, loadingMarkers) {
		return true
	}
	return false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

type pageShape struct {
	anchors         int
	emptyContainers int
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// analyzeShape tokenizes the document once, counting anchors and finding
// content containers that close without ever holding an element or text.
func analyzeShape(lowerHTML string) pageShape {
	var shape pageShape

	type openContainer struct {
		depth   int
		hasBody bool
	}
	var stack []openContainer
	depth := 0

	markContent := func() {
		for i := range stack {
			stack[i].hasBody = true
		}
	}

	z := html.NewTokenizer(strings.NewReader(lowerHTML))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return shape
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if tag == "a" {
				shape.anchors++
			}
			markContent()
			// Void elements never produce an end token; counting them
			// into depth would orphan every container opened after one.
			if voidElements[tag] {
				continue
			}
			depth++
			if hasAttr && isContentContainer(z) {
				stack = append(stack, openContainer{depth: depth})
			}
		case html.SelfClosingTagToken:
			markContent()
		case html.EndTagToken:
			for len(stack) > 0 && stack[len(stack)-1].depth == depth {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if !top.hasBody {
					shape.emptyContainers++
				}
			}
			depth--
		case html.TextToken:
			if len(strings.TrimSpace(string(z.Text()))) > 0 {
				markContent()
			}
		}
	}
}

// isContentContainer inspects the current tag's id/class attributes. Must be
// called immediately after TagName on a token with attributes.
func isContentContainer(z *html.Tokenizer) bool {
	for {
		key, val, more := z.TagAttr()
		k := string(key)
		if k == "id" || k == "class" {
			v := string(val)
			for _, name := range contentContainerNames {
				if strings.Contains(v, name) {
					return true
				}
			}
		}
		if !more {
			return false
		}
	}
}
