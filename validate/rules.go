package validate

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/use-agent/harvest/models"
)

// domainRuleEntry pairs a hostname-substring key with its overrides.
type domainRuleEntry struct {
	key  string
	rule models.DomainRule
}

// ruleFileEntry is the on-disk JSON shape of one domain rule.
type ruleFileEntry struct {
	MinContentLength  int      `json:"min_content_length"`
	MinLinkCount      int      `json:"min_link_count"`
	RequiredMarkers   []string `json:"required_markers"`
	ForbiddenPatterns []string `json:"forbidden_patterns"`
}

// loadDomainRules reads the per-domain override table from a JSON file
// keyed by hostname substring. Regex patterns are compiled eagerly so a bad
// config fails at startup, not mid-fetch.
func loadDomainRules(path string) ([]domainRuleEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("validate: read domain rules: %w", err)
	}

	var raw map[string]ruleFileEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("validate: parse domain rules: %w", err)
	}

	entries := make([]domainRuleEntry, 0, len(raw))
	for key, fe := range raw {
		rule := models.DomainRule{
			MinContentLength: fe.MinContentLength,
			MinLinkCount:     fe.MinLinkCount,
			RequiredMarkers:  fe.RequiredMarkers,
		}
		for _, p := range fe.ForbiddenPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("validate: rule %q: bad pattern %q: %w", key, p, err)
			}
			rule.ForbiddenPatterns = append(rule.ForbiddenPatterns, re)
		}
		entries = append(entries, domainRuleEntry{key: key, rule: rule})
	}

	sortRuleEntries(entries)
	return entries, nil
}

// sortRuleEntries orders rules most-specific-first: longest key wins, ties
// broken lexicographically. Lookup is then a deterministic ordered scan
// regardless of map iteration order.
func sortRuleEntries(entries []domainRuleEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].key) != len(entries[j].key) {
			return len(entries[i].key) > len(entries[j].key)
		}
		return entries[i].key < entries[j].key
	})
}
