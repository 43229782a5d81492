package nitrate

import (
	"github.com/dustin/go-humanize/english"
)

// Listed joins items for humans: "a, b and c". Each item is wrapped in
// quote.
func Listed(items []string, quote string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = quote + it + quote
	}
	return english.WordSeries(quoted, "and")
}
