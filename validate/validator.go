// Package validate scores raw HTML for validity and sufficiency. It decides
// whether a fetched document is a real content page or an error/challenge
// page, and whether its link structure looks like a usable source page.
//
// Validation is a pure function of (html, url, domain-rule table): there is
// no hidden state, so identical inputs always produce identical verdicts.
package validate

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

// Validator applies the error-rule tables and link-quality scoring with
// per-domain threshold overrides.
type Validator struct {
	cfg   config.ValidatorConfig
	rules []domainRuleEntry
}

// New creates a Validator, loading the domain-rule file if configured.
func New(cfg config.ValidatorConfig) (*Validator, error) {
	v := &Validator{cfg: cfg}
	if cfg.DomainRulesFile != "" {
		rules, err := loadDomainRules(cfg.DomainRulesFile)
		if err != nil {
			return nil, err
		}
		v.rules = rules
	}
	return v, nil
}

// NewWithRules creates a Validator with an in-memory rule table. Used by
// tests and embedders that manage configuration themselves.
func NewWithRules(cfg config.ValidatorConfig, rules map[string]models.DomainRule) *Validator {
	entries := make([]domainRuleEntry, 0, len(rules))
	for key, rule := range rules {
		entries = append(entries, domainRuleEntry{key: key, rule: rule})
	}
	sortRuleEntries(entries)
	return &Validator{cfg: cfg, rules: entries}
}

// RuleFor resolves the effective thresholds for a hostname. The most
// specific (longest) configured key contained in the hostname wins; absent
// fields fall back to the validator defaults.
func (v *Validator) RuleFor(hostname string) models.DomainRule {
	hostname = strings.ToLower(hostname)

	effective := models.DomainRule{
		MinContentLength: v.cfg.MinContentLength,
		MinLinkCount:     v.cfg.MinLinkCount,
	}
	for _, entry := range v.rules {
		if strings.Contains(hostname, entry.key) {
			if entry.rule.MinContentLength > 0 {
				effective.MinContentLength = entry.rule.MinContentLength
			}
			if entry.rule.MinLinkCount > 0 {
				effective.MinLinkCount = entry.rule.MinLinkCount
			}
			effective.RequiredMarkers = entry.rule.RequiredMarkers
			effective.ForbiddenPatterns = entry.rule.ForbiddenPatterns
			break
		}
	}
	return effective
}

// Validate scores one HTML document fetched from rawURL.
func (v *Validator) Validate(htmlStr, rawURL string) models.ValidationVerdict {
	var verdict models.ValidationVerdict

	lower := strings.ToLower(htmlStr)
	hostname := ""
	if u, err := url.Parse(rawURL); err == nil {
		hostname = u.Hostname()
	}
	rule := v.RuleFor(hostname)

	verdict.IsErrorPage, verdict.ErrorKind, verdict.Confidence = classifyError(lower, rawURL, len(htmlStr), rule.MinContentLength)

	total, articleLike, errorLike := scoreLinks(htmlStr)
	verdict.LinkCount = total
	if total > 0 {
		verdict.ArticleLinkRatio = float64(articleLike) / float64(total)
		verdict.ErrorLinkRatio = float64(errorLike) / float64(total)
	}

	// Every violated condition is recorded, even when others already
	// failed, so callers can log precisely why a page was rejected.
	if verdict.IsErrorPage {
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("error page detected (%s)", verdict.ErrorKind))
	}
	if len(htmlStr) < rule.MinContentLength {
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("content length %d below minimum %d", len(htmlStr), rule.MinContentLength))
	}
	if total < rule.MinLinkCount {
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("link count %d below minimum %d", total, rule.MinLinkCount))
	}
	if verdict.ErrorLinkRatio > v.cfg.MaxErrorLinkRatio {
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("error link ratio %.2f above maximum %.2f", verdict.ErrorLinkRatio, v.cfg.MaxErrorLinkRatio))
	}
	if verdict.ArticleLinkRatio < v.cfg.MinArticleLinkRatio {
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("article link ratio %.2f below minimum %.2f", verdict.ArticleLinkRatio, v.cfg.MinArticleLinkRatio))
	}
	for _, marker := range rule.RequiredMarkers {
		if !strings.Contains(lower, strings.ToLower(marker)) {
			verdict.Issues = append(verdict.Issues, fmt.Sprintf("missing required marker %q", marker))
		}
	}
	for _, re := range rule.ForbiddenPatterns {
		if re.MatchString(htmlStr) {
			verdict.Issues = append(verdict.Issues, fmt.Sprintf("forbidden pattern matched: %s", re.String()))
		}
	}

	verdict.IsValid = !verdict.IsErrorPage && len(verdict.Issues) == 0
	if !verdict.IsErrorPage {
		if verdict.IsValid {
			verdict.Confidence = 0.9
		} else {
			verdict.Confidence = 0.4
		}
	}
	return verdict
}

// classifyError runs the ordered error-page classification: vendor
// signatures beat URL markers beat accumulated generic patterns beat the
// thin-content heuristic. First match wins.
func classifyError(lower, rawURL string, contentLen, minContentLen int) (bool, models.ErrorKind, float64) {
	for _, vr := range vendorErrorRules {
		for _, p := range vr.patterns {
			if strings.Contains(lower, p) {
				return true, models.ErrorKindProtection, 0.95
			}
		}
	}

	urlLower := strings.ToLower(rawURL)
	for _, marker := range urlErrorMarkers {
		if strings.Contains(urlLower, marker) {
			return true, models.ErrorKindURLMarker, 0.9
		}
	}

	matchCount := 0
	for _, p := range genericErrorPatterns {
		if strings.Contains(lower, p) {
			matchCount++
		}
	}
	if matchCount > 0 {
		// Floor at 0.6: even a single generic match flags the page with
		// enough confidence to reject it outright.
		confidence := 0.3 + 0.2*float64(matchCount)
		if confidence < 0.6 {
			confidence = 0.6
		}
		if confidence > 0.9 {
			confidence = 0.9
		}
		return true, models.ErrorKindGenericPattern, confidence
	}

	if contentLen < minContentLen && strings.Contains(lower, "error") {
		return true, models.ErrorKindThinContent, 0.6
	}

	return false, models.ErrorKindNone, 0
}

// scoreLinks extracts anchors and classifies each as article-like or
// error-like by its href shape.
func scoreLinks(htmlStr string) (total, articleLike, errorLike int) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return 0, 0, 0
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(strings.ToLower(href))
		if href == "" || href == "#" ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") {
			return
		}
		total++

		for _, re := range errorLinkPatterns {
			if re.MatchString(href) {
				errorLike++
				return
			}
		}
		for _, re := range articleLinkPatterns {
			if re.MatchString(href) {
				articleLike++
				return
			}
		}
	})
	return total, articleLike, errorLike
}
