package handlers

import (
	"strings"

	"github.com/danellekruger/star-wars-api-wrapper/internal/swapi"
)

// crawlLimit is the number of runes of opening_crawl kept in a film summary.
const crawlLimit = 200

// invariantPlurals are array fields whose singular form is the same word.
var invariantPlurals = map[string]bool{"species": true}

// FilmSummary shapes a film for clients: scalars kept, opening_crawl
// truncated, relation arrays replaced by their counts.
func FilmSummary(film swapi.Resource) map[string]any {
	out := Summarize(film)
	if crawl, ok := film["opening_crawl"].(string); ok {
		out["opening_crawl"] = truncateRunes(crawl, crawlLimit)
	}
	return out
}

// Summarize keeps scalar fields, counts array fields as {singular}_count and
// drops nested objects. Scalar links other than the resource's own url are
// renamed {field}_url.
func Summarize(r swapi.Resource) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		switch val := v.(type) {
		case []any:
			out[countKey(k)] = len(val)
		case map[string]any:
		case string:
			if k != "url" && isLink(val) {
				out[k+"_url"] = val
				continue
			}
			out[k] = val
		default:
			out[k] = val
		}
	}
	return out
}

// SummarizeAll applies fn to every item, preserving order.
func SummarizeAll(items []swapi.Resource, fn func(swapi.Resource) map[string]any) []map[string]any {
	out := make([]map[string]any, len(items))
	for i, it := range items {
		out[i] = fn(it)
	}
	return out
}

func countKey(field string) string {
	return singular(field) + "_count"
}

func singular(field string) string {
	if invariantPlurals[field] {
		return field
	}
	return strings.TrimSuffix(field, "s")
}

func isLink(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
