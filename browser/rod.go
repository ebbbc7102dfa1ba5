package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
	"github.com/ysmood/gson"
)

// RodPool is the rod-backed Pool. One Chromium process serves every page;
// a capacity semaphore bounds concurrent tabs and RestartBrowser swaps the
// whole process under the pool's lock.
type RodPool struct {
	cfg config.BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser

	sem      chan struct{}
	active   atomic.Int32
	restarts atomic.Int32
}

// NewRodPool launches the browser and prepares the page capacity gate.
func NewRodPool(cfg config.BrowserConfig) (*RodPool, error) {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	p := &RodPool{
		cfg: cfg,
		sem: make(chan struct{}, cfg.MaxPages),
	}
	b, err := p.launch()
	if err != nil {
		return nil, err
	}
	p.browser = b
	return p, nil
}

// launch starts a Chromium process with the anti-automation-detection flag
// set and connects to it.
func (p *RodPool) launch() (*rod.Browser, error) {
	l := launcher.New().
		Headless(p.cfg.Headless).
		NoSandbox(p.cfg.NoSandbox)

	if p.cfg.BrowserBin != "" {
		l = l.Bin(p.cfg.BrowserBin)
	}
	if p.cfg.DefaultProxy != "" {
		l = l.Proxy(p.cfg.DefaultProxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)
	return b, nil
}

// CreatePage returns a fresh tab, blocking while the pool is at capacity.
func (p *RodPool) CreatePage(ctx context.Context, cfg PageConfig) (Page, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	b := p.browser
	p.mu.Unlock()

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		<-p.sem
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to create page", err)
	}

	router := setupHijack(page, cfg.BlockResources, cfg.BlockAds)

	p.active.Add(1)
	return &rodPage{page: page, router: router, pool: p}, nil
}

// RestartBrowser replaces the browser process. Pages created before the
// restart belong to the dead process and will fail; their owners observe
// that as a disconnect fault and re-attempt.
func (p *RodPool) RestartBrowser(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.browser
	fresh, err := p.launch()
	if err != nil {
		return err
	}
	p.browser = fresh
	p.restarts.Add(1)

	if old != nil {
		if closeErr := old.Close(); closeErr != nil {
			slog.Debug("closing dead browser failed (expected after crash)", "error", closeErr)
		}
	}
	slog.Warn("browser restarted", "restarts", p.restarts.Load())
	return nil
}

// Stats returns a snapshot of pool state.
func (p *RodPool) Stats() models.PoolStats {
	return models.PoolStats{
		MaxPages:    p.cfg.MaxPages,
		ActivePages: int(p.active.Load()),
		Restarts:    int(p.restarts.Load()),
	}
}

// Close kills the browser process. Call on graceful shutdown to prevent
// zombie Chrome processes.
func (p *RodPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			slog.Warn("browser close failed", "error", err)
		}
		p.browser = nil
	}
	slog.Info("browser pool shut down")
}

// rodPage adapts a *rod.Page to the narrow Page contract.
type rodPage struct {
	page   *rod.Page
	router *rod.HijackRouter
	pool   *RodPool
	closed atomic.Bool
}

func (r *rodPage) Navigate(ctx context.Context, url string, policy WaitPolicy, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pg := r.page.Context(navCtx)

	// The idle waiter registers its CDP listener now; registering after
	// Navigate would miss in-flight requests and return a false idle.
	var waitIdle func()
	if policy == WaitNetworkIdle {
		waitIdle = pg.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
	}

	if err := pg.Navigate(url); err != nil {
		return err
	}

	switch policy {
	case WaitNone:
	case WaitLoad:
		if err := pg.WaitLoad(); err != nil {
			slog.Debug("WaitLoad did not complete, proceeding", "error", err)
		}
	case WaitNetworkIdle:
		waitIdle()
	default:
		if err := pg.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
		}
	}
	return nil
}

func (r *rodPage) Eval(js string, args ...any) (gson.JSON, error) {
	res, err := r.page.Eval(js, args...)
	if err != nil {
		return gson.New(nil), err
	}
	return res.Value, nil
}

func (r *rodPage) EvalOnNewDocument(js string) error {
	_, err := r.page.EvalOnNewDocument(js)
	return err
}

func (r *rodPage) HTML() (string, error) {
	return r.page.HTML()
}

func (r *rodPage) CurrentURL() string {
	info, err := r.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (r *rodPage) SetViewport(width, height int) error {
	return r.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
}

func (r *rodPage) SetUserAgent(ua string) error {
	return r.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua})
}

func (r *rodPage) SetExtraHeaders(headers map[string]string) error {
	if len(headers) == 0 {
		return nil
	}
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return proto.NetworkSetExtraHTTPHeaders{Headers: m}.Call(r.page)
}

func (r *rodPage) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.router != nil {
		_ = r.router.Stop()
	}
	err := r.page.Close()
	r.pool.active.Add(-1)
	<-r.pool.sem
	if err != nil {
		return fmt.Errorf("browser: close page: %w", err)
	}
	return nil
}
