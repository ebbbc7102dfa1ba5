package tlsclient

import (
	"testing"
	"time"

	"github.com/use-agent/harvest/config"
)

func testConfig() config.TLSClientConfig {
	return config.TLSClientConfig{
		MaxReuse:       10,
		CompatCacheTTL: 5 * time.Minute,
	}
}

func TestGetClient_PooledPerKey(t *testing.T) {
	m := NewManager(testConfig())

	cc := ClientConfig{UserAgent: "ua-1", Preset: "chrome", Timeout: 10 * time.Second}
	h1 := m.GetClient(cc)
	if h1 == nil {
		t.Fatal("expected a client handle on a supported platform")
	}
	h2 := m.GetClient(cc)
	if h1 != h2 {
		t.Error("same config must reuse the pooled handle")
	}
	if m.PooledCount() != 1 {
		t.Errorf("PooledCount = %d, want 1", m.PooledCount())
	}

	other := m.GetClient(ClientConfig{UserAgent: "ua-2", Preset: "firefox", Timeout: 10 * time.Second})
	if other == nil || other == h1 {
		t.Error("different config must get its own handle")
	}
}

func TestGetClient_ReuseCapRecreates(t *testing.T) {
	cfg := testConfig()
	cfg.MaxReuse = 3
	m := NewManager(cfg)

	cc := ClientConfig{UserAgent: "ua", Timeout: time.Second}
	first := m.GetClient(cc)
	for i := 0; i < 2; i++ {
		if got := m.GetClient(cc); got != first {
			t.Fatalf("handle replaced before reuse cap (use %d)", i+2)
		}
	}

	// Fourth use exceeds the cap of 3: the handle must be recreated.
	replaced := m.GetClient(cc)
	if replaced == first {
		t.Error("handle not recreated after reuse cap")
	}
	if m.PooledCount() != 1 {
		t.Errorf("PooledCount = %d, want 1 (one handle per key)", m.PooledCount())
	}
}

func TestGetClient_UnsupportedArchitecture(t *testing.T) {
	m := NewManager(testConfig())
	m.goos, m.goarch = "plan9", "mips"

	for i := 0; i < 3; i++ {
		if h := m.GetClient(ClientConfig{UserAgent: "ua"}); h != nil {
			t.Fatalf("call %d: expected nil on unsupported platform", i+1)
		}
	}
}

func TestGetClient_UnsupportedArchOnSupportedOS(t *testing.T) {
	m := NewManager(testConfig())
	m.goos, m.goarch = "linux", "riscv64"

	if h := m.GetClient(ClientConfig{UserAgent: "ua"}); h != nil {
		t.Fatal("expected nil for unsupported architecture")
	}
}

func TestGetClient_MissingHelperBinary(t *testing.T) {
	cfg := testConfig()
	cfg.HelperDir = t.TempDir() // exists but holds no helper binaries
	m := NewManager(cfg)

	if h := m.GetClient(ClientConfig{UserAgent: "ua"}); h != nil {
		t.Fatal("expected nil when configured helper binary is missing")
	}
}

func TestCleanupAll_Idempotent(t *testing.T) {
	m := NewManager(testConfig())
	m.GetClient(ClientConfig{UserAgent: "ua-1"})
	m.GetClient(ClientConfig{UserAgent: "ua-2"})
	if m.PooledCount() != 2 {
		t.Fatalf("PooledCount = %d, want 2", m.PooledCount())
	}

	m.CleanupAll()
	if m.PooledCount() != 0 {
		t.Errorf("PooledCount after cleanup = %d, want 0", m.PooledCount())
	}

	// Second cleanup must be a no-op, not a panic or error.
	m.CleanupAll()
	if m.PooledCount() != 0 {
		t.Errorf("PooledCount after second cleanup = %d, want 0", m.PooledCount())
	}
}

func TestClientConfig_KeyDistinguishesFields(t *testing.T) {
	base := ClientConfig{UserAgent: "ua", Preset: "chrome", Proxy: "", Timeout: time.Second}
	variants := []ClientConfig{
		{UserAgent: "other", Preset: "chrome", Timeout: time.Second},
		{UserAgent: "ua", Preset: "firefox", Timeout: time.Second},
		{UserAgent: "ua", Preset: "chrome", Proxy: "socks5://127.0.0.1:1080", Timeout: time.Second},
		{UserAgent: "ua", Preset: "chrome", Timeout: 2 * time.Second},
	}
	for i, v := range variants {
		if v.key() == base.key() {
			t.Errorf("variant %d produced the same key as base: %s", i, base.key())
		}
	}
}
