// Package simhash provides locality-sensitive 64-bit fingerprints for
// comparing page snapshots. The bypass path uses it to tell whether a page
// re-rendered into something structurally new after a challenge
// interaction, or merely reshuffled the same interstitial.
package simhash

import (
	"hash/fnv"
	"math/bits"
	"strings"
)

// Fingerprint hashes whitespace-separated tokens into a 64-bit SimHash.
// Near-identical token streams land within a few bits of each other, so the
// Hamming distance between two fingerprints tracks how much actually
// changed.
func Fingerprint(text string) uint64 {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return 0
	}

	var counts [64]int
	for _, token := range tokens {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if sum&(1<<uint(bit)) != 0 {
				counts[bit]++
			} else {
				counts[bit]--
			}
		}
	}

	var fp uint64
	for bit := 0; bit < 64; bit++ {
		if counts[bit] > 0 {
			fp |= 1 << uint(bit)
		}
	}
	return fp
}

// Distance is the Hamming distance between two fingerprints: the number of
// differing bits, 0 for identical inputs up to 64 for unrelated ones.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar reports whether two fingerprints are within threshold bits of
// each other.
func Similar(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}
