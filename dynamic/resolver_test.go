package dynamic

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/harvest/browser"
	"github.com/ysmood/gson"
)

func jsonOf(t *testing.T, v any) gson.JSON {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return gson.NewFrom(string(b))
}

// scriptedPage answers the resolver's eval payloads by content inspection.
type scriptedPage struct {
	t *testing.T

	hints      []string
	fetchSizes map[string]int

	fetched       []string
	scrollPcts    []int
	scrolledTop   bool
	loadMoreRuns  int
	skeletonPolls int
	skeletons     int
}

func (p *scriptedPage) Navigate(context.Context, string, browser.WaitPolicy, time.Duration) error {
	return nil
}

func (p *scriptedPage) Eval(js string, args ...any) (gson.JSON, error) {
	switch {
	case strings.Contains(js, "document.readyState"):
		return jsonOf(p.t, "complete"), nil
	case strings.Contains(js, "data-resolved-endpoint"):
		ep := args[0].(string)
		p.fetched = append(p.fetched, ep)
		return jsonOf(p.t, p.fetchSizes[ep]), nil
	case strings.Contains(js, "data-endpoint"):
		return jsonOf(p.t, p.hints), nil
	case strings.Contains(js, "load[ _-]?more"):
		p.loadMoreRuns++
		return jsonOf(p.t, 0), nil
	case strings.Contains(js, "aria-busy"):
		p.skeletonPolls++
		return jsonOf(p.t, p.skeletons), nil
	case strings.Contains(js, "scrollTo(0, 0)"):
		p.scrolledTop = true
		return jsonOf(p.t, true), nil
	case strings.Contains(js, "scrollTo"):
		p.scrollPcts = append(p.scrollPcts, args[0].(int))
		return jsonOf(p.t, true), nil
	default:
		p.t.Fatalf("unexpected eval payload: %s", js)
		return gson.New(nil), nil
	}
}

func (p *scriptedPage) EvalOnNewDocument(string) error          { return nil }
func (p *scriptedPage) HTML() (string, error)                   { return "", nil }
func (p *scriptedPage) CurrentURL() string                      { return "" }
func (p *scriptedPage) SetViewport(int, int) error              { return nil }
func (p *scriptedPage) SetUserAgent(string) error               { return nil }
func (p *scriptedPage) SetExtraHeaders(map[string]string) error { return nil }
func (p *scriptedPage) Close() error                            { return nil }

func fastResolve(t *testing.T) {
	t.Helper()
	origQC, origQP := quiescenceCeiling, quiescencePoll
	origSP := scrollPause
	origSC, origSK := skeletonCeiling, skeletonPoll
	quiescenceCeiling, quiescencePoll = 5*time.Millisecond, time.Millisecond
	scrollPause = time.Millisecond
	skeletonCeiling, skeletonPoll = 10*time.Millisecond, 2*time.Millisecond
	t.Cleanup(func() {
		quiescenceCeiling, quiescencePoll = origQC, origQP
		scrollPause = origSP
		skeletonCeiling, skeletonPoll = origSC, origSK
	})
}

func TestRankEndpoints(t *testing.T) {
	endpoints := []string{
		"/misc/banner",
		"/api/tags",
		"/api/posts",
		"/api/technology/latest",
	}
	got := rankEndpoints(endpoints, "technology")
	want := []string{
		"/api/technology/latest", // context keyword
		"/api/posts",             // primary content path
		"/api/tags",              // topic path
		"/misc/banner",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rankEndpoints = %v, want %v", got, want)
	}
}

func TestContextKeyword(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/technology/2024/some-story", "technology"},
		{"https://example.com/2024/05/story", "story"},
		{"https://example.com/", ""},
		{"https://example.com/a/b", ""},
	}
	for _, tt := range tests {
		if got := contextKeyword(tt.url); got != tt.want {
			t.Errorf("contextKeyword(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestResolve_EarlyStopOnPrimaryPayload(t *testing.T) {
	fastResolve(t)
	pg := &scriptedPage{
		t:     t,
		hints: []string{"/api/technology/latest"},
		fetchSizes: map[string]int{
			"/api/technology/latest": primaryPayloadBytes + 1000,
		},
	}

	Resolve(context.Background(), pg, "https://example.com/technology/story")

	if len(pg.fetched) != 1 || pg.fetched[0] != "/api/technology/latest" {
		t.Errorf("fetched = %v, want early stop after the keyword endpoint", pg.fetched)
	}
}

func TestResolve_ExhaustsEndpointsOnSmallPayloads(t *testing.T) {
	fastResolve(t)
	pg := &scriptedPage{t: t, fetchSizes: map[string]int{}}

	Resolve(context.Background(), pg, "https://example.com/")

	if len(pg.fetched) != len(fallbackEndpoints) {
		t.Errorf("fetched %d endpoints, want all %d fallbacks", len(pg.fetched), len(fallbackEndpoints))
	}
}

func TestResolve_ScrollSequenceReturnsToTop(t *testing.T) {
	fastResolve(t)
	pg := &scriptedPage{t: t, fetchSizes: map[string]int{}}

	Resolve(context.Background(), pg, "https://example.com/")

	if !reflect.DeepEqual(pg.scrollPcts, []int{25, 50, 75, 100}) {
		t.Errorf("scroll stages = %v, want 25/50/75/100", pg.scrollPcts)
	}
	if !pg.scrolledTop {
		t.Error("scroll position must return to top")
	}
	if pg.loadMoreRuns != 1 {
		t.Errorf("load-more trigger ran %d times, want 1", pg.loadMoreRuns)
	}
}

func TestResolve_ToleratesPersistentSkeletons(t *testing.T) {
	fastResolve(t)
	pg := &scriptedPage{t: t, fetchSizes: map[string]int{}, skeletons: 3}

	done := make(chan struct{})
	go func() {
		Resolve(context.Background(), pg, "https://example.com/")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Resolve hung on persistent loading indicators")
	}
	if pg.skeletonPolls == 0 {
		t.Error("skeleton indicators were never polled")
	}
}
