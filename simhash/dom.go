package simhash

import (
	"strings"

	"golang.org/x/net/html"
)

// FingerprintDOM fingerprints the shape of an HTML document: the sequence
// of opened tag names, ignoring text, attributes and scripts. A challenge
// interstitial and the article it gates have wildly different tag
// sequences even when the interstitial's marker strings linger in the
// rendered page, which is what makes this usable as a bypass success
// signal.
func FingerprintDOM(htmlStr string) uint64 {
	tags := tagSequence(htmlStr)
	if len(tags) == 0 {
		return 0
	}

	// Trigram shingles keep local tag order significant; a bare tag bag
	// would score a reshuffled interstitial as changed.
	grams := shingle(tags, 3)
	if len(grams) == 0 {
		// Too few tags to shingle; hash the raw sequence instead.
		return Fingerprint(strings.Join(tags, " "))
	}
	return Fingerprint(strings.Join(grams, " "))
}

// tagSequence tokenizes the document and collects opening tag names in
// order.
func tagSequence(htmlStr string) []string {
	tok := html.NewTokenizer(strings.NewReader(htmlStr))
	var tags []string
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return tags
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tok.TagName()
			tags = append(tags, string(name))
		}
	}
}

// shingle builds overlapping n-grams from a token slice, nil when the
// slice is too short.
func shingle(tokens []string, n int) []string {
	if len(tokens) < n {
		return nil
	}
	grams := make([]string, 0, len(tokens)-n+1)
	for i := 0; i <= len(tokens)-n; i++ {
		grams = append(grams, strings.Join(tokens[i:i+n], "_"))
	}
	return grams
}
