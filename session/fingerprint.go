package session

import (
	"fmt"
	"math/rand"
	"strings"
)

// Profile is one claimed browser identity: a user-agent plus the header set
// and navigator properties that must agree with it. Mixing a Chrome UA with
// Firefox headers is itself a detection signal, so profiles rotate as a unit.
type Profile struct {
	UserAgent      string
	Platform       string // navigator.platform
	AcceptLanguage string
	Languages      []string
	Headers        map[string]string
}

// builtinProfiles is the fixed rotation pool of current Chrome/Firefox
// identities.
var builtinProfiles = []Profile{
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Platform:       "Win32",
		AcceptLanguage: "en-US,en;q=0.9",
		Languages:      []string{"en-US", "en"},
		Headers: map[string]string{
			"Sec-Ch-Ua":          `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
			"Sec-Ch-Ua-Mobile":   "?0",
			"Sec-Ch-Ua-Platform": `"Windows"`,
			"Sec-Fetch-Dest":     "document",
			"Sec-Fetch-Mode":     "navigate",
			"Sec-Fetch-Site":     "none",
			"Sec-Fetch-User":     "?1",
			"Upgrade-Insecure-Requests": "1",
		},
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		Platform:       "MacIntel",
		AcceptLanguage: "en-US,en;q=0.9",
		Languages:      []string{"en-US", "en"},
		Headers: map[string]string{
			"Sec-Ch-Ua":          `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
			"Sec-Ch-Ua-Mobile":   "?0",
			"Sec-Ch-Ua-Platform": `"macOS"`,
			"Sec-Fetch-Dest":     "document",
			"Sec-Fetch-Mode":     "navigate",
			"Sec-Fetch-Site":     "none",
			"Sec-Fetch-User":     "?1",
			"Upgrade-Insecure-Requests": "1",
		},
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
		Platform:       "Win32",
		AcceptLanguage: "en-US,en;q=0.5",
		Languages:      []string{"en-US", "en"},
		Headers: map[string]string{
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Sec-Fetch-User":            "?1",
			"Upgrade-Insecure-Requests": "1",
		},
	},
	{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0",
		Platform:       "Linux x86_64",
		AcceptLanguage: "en-US,en;q=0.5",
		Languages:      []string{"en-US", "en"},
		Headers: map[string]string{
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "none",
			"Upgrade-Insecure-Requests": "1",
		},
	},
}

// pickProfile selects a random profile, excluding the current UA so a
// rotation always changes identity. Pool of one degenerates to that one.
func pickProfile(pool []Profile, excludeUA string) Profile {
	candidates := make([]Profile, 0, len(pool))
	for _, p := range pool {
		if p.UserAgent != excludeUA {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return pool[0]
	}
	return candidates[rand.Intn(len(candidates))]
}

// stealthHeaders is the stealth default header set; profile headers and
// caller overrides are merged over it.
func stealthHeaders(p Profile) map[string]string {
	h := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": p.AcceptLanguage,
	}
	for k, v := range p.Headers {
		h[k] = v
	}
	return h
}

// navigatorPatchJS builds the pre-navigation patch that aligns navigator
// properties with the profile: automation markers hidden, a non-empty
// plugin list, a plausible language list. Installed via EvalOnNewDocument
// so it runs before any page script.
func navigatorPatchJS(p Profile) string {
	langs := `"` + strings.Join(p.Languages, `","`) + `"`
	return fmt.Sprintf(`() => {
		Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
		Object.defineProperty(navigator, 'platform', { get: () => %q });
		Object.defineProperty(navigator, 'languages', { get: () => [%s] });
		Object.defineProperty(navigator, 'language', { get: () => %q });
		if (!navigator.plugins || navigator.plugins.length === 0) {
			const fakePlugins = [
				{ name: 'PDF Viewer', filename: 'internal-pdf-viewer' },
				{ name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer' },
				{ name: 'Chromium PDF Viewer', filename: 'internal-pdf-viewer' },
			];
			Object.defineProperty(navigator, 'plugins', { get: () => fakePlugins });
		}
		window.chrome = window.chrome || { runtime: {} };
	}`, p.Platform, langs, p.Languages[0])
}

// profilesFromUserAgents builds profiles for a caller-supplied UA pool,
// reusing the builtin header sets by browser family.
func profilesFromUserAgents(uas []string) []Profile {
	profiles := make([]Profile, 0, len(uas))
	for _, ua := range uas {
		base := builtinProfiles[0]
		if strings.Contains(ua, "Firefox") {
			base = builtinProfiles[2]
		}
		p := base
		p.UserAgent = ua
		profiles = append(profiles, p)
	}
	if len(profiles) == 0 {
		return builtinProfiles
	}
	return profiles
}
