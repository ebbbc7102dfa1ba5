package tlsclient

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	tls "github.com/refraction-networking/utls"
)

// supportedPlatforms is the build matrix the fingerprint stack is validated
// against. Anything else degrades to "tier unavailable" rather than failing.
var supportedPlatforms = map[string][]string{
	"linux":   {"amd64", "arm64"},
	"darwin":  {"amd64", "arm64"},
	"windows": {"amd64"},
}

// compatResult is one cached compatibility validation outcome.
type compatResult struct {
	ok        bool
	reason    string
	checkedAt time.Time
}

// validateCompat runs the one-time environment validation: the platform must
// be in the support matrix, the TLS spec machinery must produce a usable
// ClientHello, and — when an external helper directory is configured — a
// platform-matched helper binary must exist and be executable.
func validateCompat(helperDir string, goos, goarch string) compatResult {
	now := time.Now()

	arches, ok := supportedPlatforms[goos]
	if !ok {
		return compatResult{reason: fmt.Sprintf("unsupported platform %s", goos), checkedAt: now}
	}
	archOK := false
	for _, a := range arches {
		if a == goarch {
			archOK = true
			break
		}
	}
	if !archOK {
		return compatResult{reason: fmt.Sprintf("unsupported architecture %s/%s", goos, goarch), checkedAt: now}
	}

	// Probe the spec machinery once so a broken utls build surfaces here
	// instead of mid-request.
	if _, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto); err != nil {
		return compatResult{reason: fmt.Sprintf("tls spec generation failed: %v", err), checkedAt: now}
	}

	if helperDir != "" {
		if reason := validateHelper(helperDir, goos, goarch); reason != "" {
			return compatResult{reason: reason, checkedAt: now}
		}
	}

	return compatResult{ok: true, checkedAt: now}
}

// validateHelper checks the platform-matched helper binary, self-repairing a
// missing executable bit. Returns an empty string when the helper is usable.
func validateHelper(dir, goos, goarch string) string {
	name := fmt.Sprintf("helper-%s-%s", goos, goarch)
	if goos == "windows" {
		name += ".exe"
	}
	path := filepath.Join(dir, name)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("helper binary missing: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Sprintf("helper binary empty: %s", path)
	}

	if goos != "windows" && info.Mode()&0o111 == 0 {
		// Self-repair the permission bit; a packaging step may have
		// dropped it.
		if err := os.Chmod(path, info.Mode()|0o755); err != nil {
			return fmt.Sprintf("helper binary not executable and chmod failed: %v", err)
		}
		slog.Info("repaired helper binary permissions", "path", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("helper binary unreadable: %v", err)
	}
	f.Close()

	return ""
}

// currentPlatform returns the running GOOS/GOARCH; split out so tests can
// exercise unsupported combinations.
func currentPlatform() (string, string) {
	return runtime.GOOS, runtime.GOARCH
}
