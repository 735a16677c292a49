package pricing

import (
	"sort"
	"strings"
)

const (
	// DefaultKey is both the key for an empty parameter set and the fallback price slot.
	DefaultKey = "default"

	keySeparator  = "|"
	pairSeparator = ":"
)

// BuildKey returns the canonical pricing key for params. Empty values count as
// undefined and are dropped; the remaining pairs are sorted by attribute name so
// the caller's ordering never matters.
//
//	{ratio: "1:1", quality: "high"} -> "quality:high|ratio:1:1"
//	{}                              -> "default"
func BuildKey(params map[string]string) string {
	names := make([]string, 0, len(params))
	for name, value := range params {
		if value == "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return DefaultKey
	}
	sort.Strings(names)

	segments := make([]string, len(names))
	for i, name := range names {
		segments[i] = name + pairSeparator + params[name]
	}
	return strings.Join(segments, keySeparator)
}

// NormalizeProvider maps provider identifiers onto their canonical upper-case form.
func NormalizeProvider(provider string) string {
	return strings.ToUpper(strings.TrimSpace(provider))
}
