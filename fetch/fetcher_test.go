package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/session"
	"github.com/use-agent/harvest/validate"
)

func testFetchConfig() config.FetchConfig {
	return config.FetchConfig{
		DefaultBudget:     10 * time.Second,
		DirectTimeout:     time.Second,
		EnhancedTimeout:   time.Second,
		DisconnectBackoff: time.Millisecond,
		MinAcceptBytes:    1000,
		SubstantialBytes:  50_000,
		MinUsableLinks:    10,
	}
}

func testFetcher() (*Fetcher, *[]string) {
	v := validate.NewWithRules(config.ValidatorConfig{
		MinLinkCount:        10,
		MinContentLength:    500,
		MaxErrorLinkRatio:   0.1,
		MinArticleLinkRatio: 0.2,
	}, nil)
	f := &Fetcher{cfg: testFetchConfig(), validator: v}

	calls := &[]string{}
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "direct")
		return nil, errors.New("not wired")
	}
	f.enhanced = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "enhanced")
		return nil, errors.New("not wired")
	}
	f.browse = func(context.Context, models.FetchRequest) (*browserAttempt, error) {
		*calls = append(*calls, "browse")
		return nil, errors.New("not wired")
	}
	return f, calls
}

// linkedPage is a healthy source page: date-permalink links plus body text.
func linkedPage(nLinks int) string {
	var b strings.Builder
	b.WriteString("<html><body><h1>Front</h1><ul>")
	for i := 0; i < nLinks; i++ {
		fmt.Fprintf(&b, `<li><a href="/2024/%02d/story-number-%d">Story %d</a></li>`, (i%12)+1, i, i)
	}
	b.WriteString("</ul><p>")
	b.WriteString(strings.Repeat("front page text ", 100))
	b.WriteString("</p></body></html>")
	return b.String()
}

// plainPage is static markup of roughly the requested size with enough
// anchors to carry no dynamic-loading signal.
func plainPage(approxBytes int) string {
	var b strings.Builder
	b.WriteString("<html><body><nav>")
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&b, `<a href="/section-%d">s</a>`, i)
	}
	b.WriteString("</nav><p>")
	for b.Len() < approxBytes {
		b.WriteString("plain static body text ")
	}
	b.WriteString("</p></body></html>")
	return b.String()
}

func TestFetch_DirectTierSufficient(t *testing.T) {
	f, calls := testFetcher()
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "direct")
		return &httpAttempt{html: linkedPage(25), status: 200, finalURL: "https://example.com/"}, nil
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if !res.Success {
		t.Fatalf("Success = false, diagnostic: %s", res.Diagnostic)
	}
	if res.TierUsed != models.TierDirectHTTP {
		t.Errorf("TierUsed = %s, want direct_http", res.TierUsed)
	}
	if got := strings.Join(*calls, ","); got != "direct" {
		t.Errorf("tiers called: %s, want direct only", got)
	}
}

func TestFetch_ShortBodyNeverAcceptedAtTier1(t *testing.T) {
	f, calls := testFetcher()
	short := plainPage(800)[:800]
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "direct")
		return &httpAttempt{html: short, status: 200}, nil
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if res.Success {
		t.Fatal("an 800-byte body must never be accepted at Tier 1")
	}
	if got := strings.Join(*calls, ","); got != "direct,enhanced,browse" {
		t.Errorf("escalation order = %s, want direct,enhanced,browse", got)
	}
}

func TestFetch_ShortTier1EscalatesToEnhancedBeforeBrowser(t *testing.T) {
	f, calls := testFetcher()
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "direct")
		return &httpAttempt{html: plainPage(800)[:800], status: 200}, nil
	}
	f.enhanced = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "enhanced")
		return &httpAttempt{html: linkedPage(25), status: 200, finalURL: "https://example.com/"}, nil
	}
	f.browse = func(context.Context, models.FetchRequest) (*browserAttempt, error) {
		t.Fatal("browser tier must not run when the enhanced tier succeeds")
		return nil, nil
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if !res.Success {
		t.Fatalf("Success = false, diagnostic: %s", res.Diagnostic)
	}
	if res.TierUsed != models.TierEnhancedHTTP {
		t.Errorf("TierUsed = %s, want enhanced_http", res.TierUsed)
	}
}

func TestFetch_TransportErrorRetriesTierOnce(t *testing.T) {
	f, calls := testFetcher()
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "direct")
		return nil, fmt.Errorf("%w: connection refused", errTransport)
	}
	enhancedCalls := 0
	f.enhanced = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "enhanced")
		enhancedCalls++
		if enhancedCalls == 1 {
			return nil, fmt.Errorf("%w: connection reset by peer", errTransport)
		}
		return &httpAttempt{html: linkedPage(25), status: 200, finalURL: "https://example.com/"}, nil
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if !res.Success {
		t.Fatalf("Success = false, diagnostic: %s", res.Diagnostic)
	}
	if res.TierUsed != models.TierEnhancedHTTP {
		t.Errorf("TierUsed = %s, want enhanced_http", res.TierUsed)
	}
	if got := strings.Join(*calls, ","); got != "direct,direct,enhanced,enhanced" {
		t.Errorf("call sequence = %s, want exactly two calls per tier on transport errors", got)
	}
}

func TestFetch_BadResponseEscalatesWithoutRetry(t *testing.T) {
	f, calls := testFetcher()
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "direct")
		return nil, errors.New("status 403")
	}
	f.enhanced = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "enhanced")
		return nil, errTLSUnavailable
	}
	f.browse = func(context.Context, models.FetchRequest) (*browserAttempt, error) {
		*calls = append(*calls, "browse")
		html := linkedPage(25)
		return &browserAttempt{html: html, verdict: f.validator.Validate(html, "https://example.com/")}, nil
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if !res.Success {
		t.Fatalf("Success = false, diagnostic: %s", res.Diagnostic)
	}
	if got := strings.Join(*calls, ","); got != "direct,enhanced,browse" {
		t.Errorf("call sequence = %s, want one call per tier for served errors", got)
	}
}

func TestRedirectChain(t *testing.T) {
	mustParse := func(raw string) *url.URL {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		return u
	}

	// The chain net/http leaves behind after /old -> /moved -> /final.
	first := &http.Request{URL: mustParse("https://example.com/old")}
	second := &http.Request{URL: mustParse("https://example.com/moved"), Response: &http.Response{Request: first}}
	final := &http.Request{URL: mustParse("https://example.com/final"), Response: &http.Response{Request: second}}

	got := redirectChain(&http.Response{Request: final})
	want := []string{"https://example.com/moved", "https://example.com/final"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("redirectChain = %v, want %v", got, want)
	}

	if hops := redirectChain(&http.Response{Request: first}); hops != nil {
		t.Errorf("no-redirect response must yield an empty chain, got %v", hops)
	}
}

func TestFetch_SubstantialContentAcceptedDespiteDynamicSignals(t *testing.T) {
	f, calls := testFetcher()
	page := plainPage(60_000) + `<script>window.__INITIAL_STATE__ = {};</script>`
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "direct")
		return &httpAttempt{html: page, status: 200}, nil
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if !res.Success || res.TierUsed != models.TierDirectHTTP {
		t.Errorf("substantial body must be served by Tier 1, got success=%v tier=%s (%s)",
			res.Success, res.TierUsed, res.Diagnostic)
	}
}

func TestFetch_EnhancedNonArticleNeedsUsableLinks(t *testing.T) {
	f, calls := testFetcher()
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "direct")
		return nil, errors.New("connection refused")
	}
	f.enhanced = func(context.Context, string) (*httpAttempt, error) {
		*calls = append(*calls, "enhanced")
		// Big enough and static, but only the 8 nav links.
		return &httpAttempt{html: plainPage(5000), status: 200}, nil
	}
	f.browse = func(context.Context, models.FetchRequest) (*browserAttempt, error) {
		*calls = append(*calls, "browse")
		html := linkedPage(25)
		return &browserAttempt{html: html, verdict: f.validator.Validate(html, "https://example.com/")}, nil
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if !res.Success {
		t.Fatalf("Success = false, diagnostic: %s", res.Diagnostic)
	}
	if res.TierUsed != models.TierBrowser {
		t.Errorf("TierUsed = %s, want browser (enhanced lacked usable links)", res.TierUsed)
	}
}

func TestFetch_EnhancedArticleAcceptedWithoutLinkFloor(t *testing.T) {
	f, _ := testFetcher()
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		return nil, errors.New("connection refused")
	}
	f.enhanced = func(context.Context, string) (*httpAttempt, error) {
		return &httpAttempt{html: plainPage(5000), status: 200}, nil
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/a", IsArticleHint: true})
	if !res.Success || res.TierUsed != models.TierEnhancedHTTP {
		t.Errorf("article hint must relax the link floor, got success=%v tier=%s (%s)",
			res.Success, res.TierUsed, res.Diagnostic)
	}
}

func TestFetch_DisconnectRetriesBrowserOnce(t *testing.T) {
	f, _ := testFetcher()
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		return nil, errors.New("refused")
	}
	f.enhanced = func(context.Context, string) (*httpAttempt, error) {
		return nil, errTLSUnavailable
	}
	browseCalls := 0
	f.browse = func(context.Context, models.FetchRequest) (*browserAttempt, error) {
		browseCalls++
		if browseCalls == 1 {
			return nil, session.ErrBrowserRestarted
		}
		html := linkedPage(25)
		return &browserAttempt{html: html, verdict: f.validator.Validate(html, "https://example.com/")}, nil
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if !res.Success {
		t.Fatalf("Success = false after restart retry, diagnostic: %s", res.Diagnostic)
	}
	if browseCalls != 2 {
		t.Errorf("browser tier ran %d times, want 2 (one retry after restart)", browseCalls)
	}
}

func TestFetch_DisconnectRetriesOnlyOnce(t *testing.T) {
	f, _ := testFetcher()
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		return nil, errors.New("refused")
	}
	f.enhanced = func(context.Context, string) (*httpAttempt, error) {
		return nil, errTLSUnavailable
	}
	browseCalls := 0
	f.browse = func(context.Context, models.FetchRequest) (*browserAttempt, error) {
		browseCalls++
		return nil, session.ErrBrowserRestarted
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if res.Success {
		t.Fatal("repeated restarts must not loop into success")
	}
	if browseCalls != 2 {
		t.Errorf("browser tier ran %d times, want exactly 2", browseCalls)
	}
}

func TestFetch_AllTiersFailReturnsBestPartial(t *testing.T) {
	f, _ := testFetcher()
	partial := plainPage(800)[:800]
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		return &httpAttempt{html: partial, status: 200, finalURL: "https://example.com/"}, nil
	}
	f.enhanced = func(context.Context, string) (*httpAttempt, error) {
		return nil, errors.New("handshake rejected")
	}
	f.browse = func(context.Context, models.FetchRequest) (*browserAttempt, error) {
		return nil, errors.New("navigation failed")
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if res.Success {
		t.Fatal("Success must be false when every tier fails")
	}
	if res.HTML != partial {
		t.Error("result must carry the best partial HTML seen")
	}
	if res.Diagnostic == "" {
		t.Error("failed result must carry a diagnostic")
	}
	if res.ResponseTimeMs < 0 {
		t.Error("response time must be recorded")
	}
}

func TestFetch_BlockedBrowserResultFails(t *testing.T) {
	f, _ := testFetcher()
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		return nil, errors.New("refused")
	}
	f.enhanced = func(context.Context, string) (*httpAttempt, error) {
		return nil, errTLSUnavailable
	}
	challenge := `<html><body><div id="cf-browser-verification">` + strings.Repeat("wait ", 300) + `</div></body></html>`
	f.browse = func(context.Context, models.FetchRequest) (*browserAttempt, error) {
		return &browserAttempt{
			html:       challenge,
			blocked:    true,
			protection: models.ProtectionSignal{Present: true, Kind: models.ProtectionCloudflare, Confidence: 0.95},
			verdict:    f.validator.Validate(challenge, "https://example.com/"),
		}, nil
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/"})
	if res.Success {
		t.Fatal("a still-blocked page must not be a success")
	}
	if !strings.Contains(res.Diagnostic, models.ErrCodeProtection) {
		t.Errorf("Diagnostic = %q, want a %s mention", res.Diagnostic, models.ErrCodeProtection)
	}
	if res.HTML != challenge {
		t.Error("blocked result must still carry the page as partial content")
	}
}

func TestFetch_ArticleBrowserAcceptanceByLength(t *testing.T) {
	f, _ := testFetcher()
	f.direct = func(context.Context, string) (*httpAttempt, error) {
		return nil, errors.New("refused")
	}
	f.enhanced = func(context.Context, string) (*httpAttempt, error) {
		return nil, errTLSUnavailable
	}
	article := `<html><body><article><h1>Title</h1><p>` + strings.Repeat("prose ", 500) + `</p></article></body></html>`
	f.browse = func(context.Context, models.FetchRequest) (*browserAttempt, error) {
		return &browserAttempt{html: article, verdict: f.validator.Validate(article, "https://example.com/a")}, nil
	}

	res := f.Fetch(context.Background(), models.FetchRequest{URL: "https://example.com/a", IsArticleHint: true})
	if !res.Success {
		t.Fatalf("long article with no links must pass under the article hint, diagnostic: %s", res.Diagnostic)
	}
}
