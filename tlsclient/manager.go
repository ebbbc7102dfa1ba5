// Package tlsclient pools HTTP clients whose TLS handshakes mimic real
// browser fingerprints (via utls). Bot-detection layers fingerprint Go's
// standard TLS stack instantly; presenting a Chrome or Firefox ClientHello
// is what keeps the enhanced HTTP tier viable.
//
// The manager degrades, never fails: when the environment cannot support
// the fingerprint stack, GetClient returns nil and callers skip the tier.
package tlsclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
	"github.com/use-agent/harvest/config"
)

// ClientConfig selects the fingerprint identity for one pooled client.
type ClientConfig struct {
	// UserAgent is sent on requests and folded into the pool key so a UA
	// never crosses fingerprints.
	UserAgent string

	// Preset names the ClientHello to imitate: "chrome" (default),
	// "firefox" or "safari".
	Preset string

	// Proxy is an optional http/https/socks5 proxy URL.
	Proxy string

	// Timeout is the per-request deadline for this client.
	Timeout time.Duration
}

// key derives the pool key. One live handle exists per key at a time.
func (c ClientConfig) key() string {
	return strings.Join([]string{c.UserAgent, c.presetName(), c.Proxy, c.Timeout.String()}, "|")
}

func (c ClientConfig) presetName() string {
	if c.Preset == "" {
		return "chrome"
	}
	return c.Preset
}

func (c ClientConfig) helloID() tls.ClientHelloID {
	switch c.presetName() {
	case "firefox":
		return tls.HelloFirefox_Auto
	case "safari":
		return tls.HelloSafari_Auto
	default:
		return tls.HelloChrome_Auto
	}
}

// ClientHandle is one pooled fingerprinted client. It is reused until the
// reuse cap, then torn down and recreated to bound accumulated state.
type ClientHandle struct {
	Client *http.Client

	key        string
	userAgent  string
	usageCount int
}

// UserAgent returns the UA string bound to this handle's fingerprint.
func (h *ClientHandle) UserAgent() string { return h.userAgent }

// Manager owns every pooled client, serializing its bookkeeping internally.
// It is safe for concurrent use.
type Manager struct {
	cfg config.TLSClientConfig

	mu      sync.Mutex
	clients map[string]*ClientHandle
	compat  *compatResult

	// platform is overridable for tests.
	goos, goarch string
}

// NewManager creates a Manager. No validation runs until first use.
func NewManager(cfg config.TLSClientConfig) *Manager {
	if cfg.MaxReuse <= 0 {
		cfg.MaxReuse = 10
	}
	if cfg.CompatCacheTTL <= 0 {
		cfg.CompatCacheTTL = 5 * time.Minute
	}
	goos, goarch := currentPlatform()
	return &Manager{
		cfg:     cfg,
		clients: make(map[string]*ClientHandle),
		goos:    goos,
		goarch:  goarch,
	}
}

// GetClient returns the pooled client for this config, creating or recycling
// one as needed. It returns nil — never an error — when the fingerprint
// stack is unavailable on this platform; callers treat nil as "tier
// unavailable" and fall back.
func (m *Manager) GetClient(cc ClientConfig) *ClientHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.compatOKLocked() {
		return nil
	}

	key := cc.key()
	handle, ok := m.clients[key]
	if ok && handle.usageCount >= m.cfg.MaxReuse {
		// Reuse cap reached: tear down so accumulated connection state
		// (sessions, tickets) never outlives the cap.
		handle.Client.CloseIdleConnections()
		delete(m.clients, key)
		slog.Debug("tlsclient: recycling client at reuse cap", "key", key, "uses", handle.usageCount)
		ok = false
	}
	if !ok {
		client, err := m.buildClient(cc)
		if err != nil {
			slog.Warn("tlsclient: failed to build client", "preset", cc.presetName(), "error", err)
			return nil
		}
		handle = &ClientHandle{Client: client, key: key, userAgent: cc.UserAgent}
		m.clients[key] = handle
	}

	handle.usageCount++
	return handle
}

// Invalidate discards the pooled client for this config, if any. Used after
// a request-level failure that suggests the client's state is poisoned.
func (m *Manager) Invalidate(cc ClientConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if handle, ok := m.clients[cc.key()]; ok {
		handle.Client.CloseIdleConnections()
		delete(m.clients, cc.key())
	}
}

// CleanupAll tears down every pooled client. Safe to call repeatedly and
// with clients already defunct.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, handle := range m.clients {
		handle.Client.CloseIdleConnections()
		delete(m.clients, key)
	}
}

// PooledCount reports how many clients are currently pooled.
func (m *Manager) PooledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// compatOKLocked returns the cached compatibility outcome, re-validating
// when the cache entry has expired. Caller must hold m.mu.
func (m *Manager) compatOKLocked() bool {
	if m.compat == nil || time.Since(m.compat.checkedAt) > m.cfg.CompatCacheTTL {
		result := validateCompat(m.cfg.HelperDir, m.goos, m.goarch)
		m.compat = &result
		if !result.ok {
			slog.Warn("tlsclient: compatibility validation failed, tier unavailable",
				"reason", result.reason)
		}
	}
	return m.compat.ok
}

// buildClient constructs an http.Client whose TLS dial presents the preset's
// ClientHello with ALPN locked to http/1.1 (utls-negotiated h2 would
// mismatch Go's h1 transport framing).
func (m *Manager) buildClient(cc ClientConfig) (*http.Client, error) {
	spec, err := tls.UTLSIdToSpec(cc.helloID())
	if err != nil {
		return nil, fmt.Errorf("tlsclient: spec for %s: %w", cc.presetName(), err)
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}

	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialFingerprinted(ctx, network, addr, cc.Proxy, &spec)
		},
		ForceAttemptHTTP2: false,
	}
	if cc.Proxy != "" {
		if proxyURL, err := url.Parse(cc.Proxy); err == nil &&
			(proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cc.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}, nil
}

// dialFingerprinted establishes a TLS connection presenting the given spec.
func dialFingerprinted(ctx context.Context, network, addr, proxy string, spec *tls.ClientHelloSpec) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	var rawConn net.Conn
	var err error
	if proxy != "" {
		if proxyURL, parseErr := url.Parse(proxy); parseErr == nil &&
			(proxyURL.Scheme == "socks5" || proxyURL.Scheme == "socks5h") {
			rawConn, err = dialer.DialContext(ctx, "tcp", proxyURL.Host)
			if err != nil {
				return nil, fmt.Errorf("tlsclient: socks5 dial: %w", err)
			}
		}
	}
	if rawConn == nil {
		rawConn, err = dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.UClient(rawConn, &tls.Config{ServerName: host}, tls.HelloCustom)
	if err := tlsConn.ApplyPreset(spec); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("tlsclient: apply spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
