// Package browser supplies ready browser pages behind narrow interfaces.
// All DOM-specific logic stays in the JavaScript payloads callers pass to
// Eval; the host-side contract is deliberately small so the rest of the
// system can be exercised against fakes.
package browser

import (
	"context"
	"time"

	"github.com/ysmood/gson"
)

// WaitPolicy selects how long Navigate blocks after the navigation commits.
type WaitPolicy int

const (
	// WaitNone returns as soon as navigation commits.
	WaitNone WaitPolicy = iota

	// WaitLoad waits for the load event.
	WaitLoad

	// WaitDOMStable waits until DOM mutation settles.
	WaitDOMStable

	// WaitNetworkIdle waits until in-flight requests quiesce.
	WaitNetworkIdle
)

// Page is one live browser tab. Implementations are not safe for concurrent
// use: a page is owned by exactly one fetch attempt at a time.
type Page interface {
	// Navigate loads the URL and blocks per the wait policy, bounded by
	// the timeout and the context.
	Navigate(ctx context.Context, url string, policy WaitPolicy, timeout time.Duration) error

	// Eval runs a JS function in the page and returns its JSON-safe value.
	Eval(js string, args ...any) (gson.JSON, error)

	// EvalOnNewDocument registers JS that runs before any page script on
	// every future navigation. Stealth patches are meaningless after the
	// first script executes, so this must precede Navigate.
	EvalOnNewDocument(js string) error

	// HTML returns the current serialized document.
	HTML() (string, error)

	// CurrentURL reports the page's present location.
	CurrentURL() string

	SetViewport(width, height int) error
	SetUserAgent(ua string) error
	SetExtraHeaders(headers map[string]string) error

	// Close releases the tab. Calling any other method afterwards is a
	// contract violation.
	Close() error
}

// PageConfig controls per-page resource policy.
type PageConfig struct {
	// BlockResources lists resource types ("Image", "Stylesheet", "Font",
	// "Media") to drop before they hit the network.
	BlockResources []string

	// BlockAds drops requests to known ad/tracking domains.
	BlockAds bool
}

// Pool hands out pages from a shared browser process and can replace the
// process wholesale after a crash. Implementations serialize their own
// bookkeeping; CreatePage and RestartBrowser are safe to call concurrently.
type Pool interface {
	CreatePage(ctx context.Context, cfg PageConfig) (Page, error)
	RestartBrowser(ctx context.Context) error
}
