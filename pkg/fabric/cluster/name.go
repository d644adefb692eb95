package cluster

import (
	"fmt"
	"hash/fnv"
	"unicode/utf8"
)

// hashSuffixLen is "-" plus eight hex digits.
const hashSuffixLen = 9

// Name builds the cluster name "<a>-to-<b>-cluster". Names longer than
// limit bytes keep at most their first limit-9 bytes, cut on a rune
// boundary, and gain a "-" and the FNV-1a hash of the full name, so two
// long names sharing a prefix still differ.
func Name(a, b string, limit int) string {
	name := a + "-to-" + b + "-cluster"
	if limit <= hashSuffixLen || len(name) <= limit {
		return name
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	cut := limit - hashSuffixLen
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return fmt.Sprintf("%s-%08x", name[:cut], h.Sum32())
}
