package protection

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/session"
	"github.com/ysmood/gson"
)

const challengeHTML = `<html><head><title>Just a moment...</title></head><body><div id="cf-browser-verification"></div></body></html>`

func cleanPage() string {
	return `<html><body><main><article><h1>Story</h1><p>` + strings.Repeat("content ", 400) + `</p></article></main></body></html>`
}

// bypassPage serves challengeHTML until interactionJS runs, then serves the
// configured after-interaction HTML.
type bypassPage struct {
	afterHTML  string
	interacted bool
	uaChanges  int
}

func (p *bypassPage) Navigate(context.Context, string, browser.WaitPolicy, time.Duration) error {
	return nil
}

func (p *bypassPage) Eval(js string, _ ...any) (gson.JSON, error) {
	if strings.Contains(js, "mousemove") {
		p.interacted = true
	}
	return gson.New(true), nil
}

func (p *bypassPage) EvalOnNewDocument(string) error { return nil }

func (p *bypassPage) HTML() (string, error) {
	if p.interacted {
		return p.afterHTML, nil
	}
	return challengeHTML, nil
}

func (p *bypassPage) CurrentURL() string                      { return "https://example.com/story" }
func (p *bypassPage) SetViewport(int, int) error              { return nil }
func (p *bypassPage) SetUserAgent(string) error               { p.uaChanges++; return nil }
func (p *bypassPage) SetExtraHeaders(map[string]string) error { return nil }
func (p *bypassPage) Close() error                            { return nil }

type singlePagePool struct{ page *bypassPage }

func (p *singlePagePool) CreatePage(context.Context, browser.PageConfig) (browser.Page, error) {
	return p.page, nil
}

func (p *singlePagePool) RestartBrowser(context.Context) error { return nil }

func fastWaits(t *testing.T) {
	t.Helper()
	origMin, origMax, origSettle := minChallengeWait, maxChallengeWait, settleWait
	minChallengeWait = time.Millisecond
	maxChallengeWait = 5 * time.Millisecond
	settleWait = time.Millisecond
	t.Cleanup(func() {
		minChallengeWait, maxChallengeWait, settleWait = origMin, origMax, origSettle
	})
}

func bypassSession(t *testing.T, pg *bypassPage) (*session.Configurator, *session.Session) {
	t.Helper()
	c := session.NewConfigurator(&singlePagePool{page: pg}, config.SessionConfig{
		ArticleTimeout: time.Minute,
		SourceTimeout:  45 * time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		DisableStealth: true,
	})
	s, err := c.Configure(context.Background(), session.IntentArticle, session.Options{})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return c, s
}

func TestBypass_ChallengeClears(t *testing.T) {
	fastWaits(t)
	pg := &bypassPage{afterHTML: cleanPage()}
	c, s := bypassSession(t, pg)
	defer s.Close()

	before := Detect(challengeHTML, "https://example.com/story")
	uaBefore := pg.uaChanges

	res, err := Bypass(context.Background(), s, c.Profiles(), before, challengeHTML)
	if err != nil {
		t.Fatalf("Bypass: %v", err)
	}
	if !res.Succeeded {
		t.Error("bypass must succeed when the challenge clears")
	}
	if res.After.Present {
		t.Error("After signal must be clear")
	}
	if !pg.interacted {
		t.Error("interaction script never ran")
	}
	if pg.uaChanges == uaBefore {
		t.Error("identity was not rotated")
	}
	if res.HTML != cleanPage() {
		t.Error("result must carry the post-bypass HTML")
	}
}

func TestBypass_ChallengePersists(t *testing.T) {
	fastWaits(t)
	pg := &bypassPage{afterHTML: challengeHTML}
	c, s := bypassSession(t, pg)
	defer s.Close()

	before := Detect(challengeHTML, "https://example.com/story")
	res, err := Bypass(context.Background(), s, c.Profiles(), before, challengeHTML)
	if err != nil {
		t.Fatalf("Bypass: %v", err)
	}
	if res.Succeeded {
		t.Error("bypass must fail when the challenge page is unchanged")
	}
	if !res.After.Present {
		t.Error("persistent challenge must still be reported")
	}
}

func TestBypass_StructuralImprovementDespiteStaleMarker(t *testing.T) {
	fastWaits(t)
	// The real page arrived but a noscript block still carries the vendor
	// marker string, so detection alone would call it blocked.
	var b strings.Builder
	b.WriteString(`<html><body><noscript>cf-browser-verification</noscript><main>`)
	for i := 0; i < 50; i++ {
		b.WriteString(`<section><h2>h</h2><ul><li><a href="/x">l</a></li></ul><p>` + strings.Repeat("text ", 12) + `</p></section>`)
	}
	b.WriteString(`</main></body></html>`)

	pg := &bypassPage{afterHTML: b.String()}
	c, s := bypassSession(t, pg)
	defer s.Close()

	before := Detect(challengeHTML, "https://example.com/story")
	res, err := Bypass(context.Background(), s, c.Profiles(), before, challengeHTML)
	if err != nil {
		t.Fatalf("Bypass: %v", err)
	}
	if !res.After.Present {
		t.Fatal("test premise broken: stale marker should still be detected")
	}
	if !res.Succeeded {
		t.Error("structural improvement must count as a successful bypass")
	}
}

func TestBypass_CancelledContext(t *testing.T) {
	// Real wait durations here: an already-cancelled context must win the
	// select long before the challenge wait elapses.
	pg := &bypassPage{afterHTML: cleanPage()}
	c, s := bypassSession(t, pg)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Bypass(ctx, s, c.Profiles(), Detect(challengeHTML, ""), challengeHTML); err == nil {
		t.Error("cancelled context must abort the bypass")
	}
}
