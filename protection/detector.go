// Package protection recognizes anti-bot challenge pages and attempts one
// bounded bypass per navigation. Detection is a rule table keyed on vendor
// markers so new vendors are a data change, not a code change.
package protection

import (
	"strings"

	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/models"
)

// challengeRule ties a set of page markers to the protection vendor they
// identify. Markers are lowercase substrings; any single match fires the
// rule. Rules are ordered: vendor-specific markers are checked before the
// generic ones so a Cloudflare interstitial is never reported as generic.
type challengeRule struct {
	kind       models.ProtectionKind
	confidence float64
	markers    []string
}

var challengeRules = []challengeRule{
	{
		kind:       models.ProtectionCloudflare,
		confidence: 0.95,
		markers: []string{
			"checking your browser before accessing",
			"just a moment...",
			"cf-browser-verification",
			"cf_chl_opt",
			"challenge-platform/h/",
			"cf-turnstile",
			"challenges.cloudflare.com",
			"cloudflare ray id",
		},
	},
	{
		kind:       models.ProtectionDataDome,
		confidence: 0.95,
		markers: []string{
			"blocked by datadome",
			"datadome-captcha",
			"geo.captcha-delivery.com",
			"ddjskey",
		},
	},
	{
		kind:       models.ProtectionIncapsula,
		confidence: 0.95,
		markers: []string{
			"incapsula incident id",
			"_incapsula_resource",
			"imperva",
			"incapsula_",
		},
	},
	{
		kind:       models.ProtectionCaptcha,
		confidence: 0.8,
		markers: []string{
			"g-recaptcha",
			"recaptcha/api.js",
			"h-captcha",
			"hcaptcha.com/1/api.js",
			"funcaptcha",
			"arkoselabs.com",
		},
	},
	{
		kind:       models.ProtectionGeneric,
		confidence: 0.8,
		markers: []string{
			"verify you are human",
			"are you a robot",
			"bot detection",
			"unusual traffic from your",
			"please enable javascript and cookies",
			"access to this page has been denied",
		},
	},
}

// challengeURLMarkers identify challenge interstitials by where the browser
// ended up rather than what the page says.
var challengeURLMarkers = []struct {
	marker string
	kind   models.ProtectionKind
}{
	{"/cdn-cgi/challenge", models.ProtectionCloudflare},
	{"captcha-delivery.com", models.ProtectionDataDome},
	{"/_incapsula_resource", models.ProtectionIncapsula},
}

// Detect inspects rendered HTML and the final URL for challenge markers.
// The zero signal (Present=false) means no recognized protection.
func Detect(html, finalURL string) models.ProtectionSignal {
	lower := strings.ToLower(html)

	for _, rule := range challengeRules {
		for _, m := range rule.markers {
			if strings.Contains(lower, m) {
				return models.ProtectionSignal{
					Present:    true,
					Kind:       rule.kind,
					Confidence: rule.confidence,
					Evidence:   m,
				}
			}
		}
	}

	lowerURL := strings.ToLower(finalURL)
	for _, um := range challengeURLMarkers {
		if strings.Contains(lowerURL, um.marker) {
			return models.ProtectionSignal{
				Present:    true,
				Kind:       um.kind,
				Confidence: 0.9,
				Evidence:   "url:" + um.marker,
			}
		}
	}

	return models.ProtectionSignal{Kind: models.ProtectionNone}
}

// DetectPage reads the live page and runs Detect over it. A page whose HTML
// cannot be read is reported as unprotected; the read failure surfaces
// elsewhere as a navigation fault.
func DetectPage(page browser.Page) (models.ProtectionSignal, string) {
	html, err := page.HTML()
	if err != nil {
		return models.ProtectionSignal{Kind: models.ProtectionNone}, ""
	}
	return Detect(html, page.CurrentURL()), html
}
