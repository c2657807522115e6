package resolver

import (
	"errors"
	"slices"
	"sort"
	"strings"

	"github.com/danellekruger/star-wars-api-wrapper/internal/swapi"
)

// ErrUnknownRelation is returned for a relation kind films do not link to.
var ErrUnknownRelation = errors.New("resolver: unknown relation")

// relationKinds are the film fields holding reference links, in display order.
var relationKinds = []string{"characters", "planets", "starships", "vehicles", "species"}

// RelationKinds lists the relation kinds GetRelated accepts.
func RelationKinds() []string { return slices.Clone(relationKinds) }

// IsRelationKind reports whether kind is one of RelationKinds.
func IsRelationKind(kind string) bool { return slices.Contains(relationKinds, kind) }

// Result is an ordered, aggregated set of resources.
type Result struct {
	Count    int              `json:"count"`
	SourceID int              `json:"source_id,omitempty"`
	Relation string           `json:"relation,omitempty"`
	Items    []swapi.Resource `json:"items"`
}

// Links returns the reference links stored under kind, in their original
// order. A missing field or non-array value yields no links; non-string
// elements are skipped.
func Links(r swapi.Resource, kind string) []string {
	raw, ok := r[kind].([]any)
	if !ok {
		return nil
	}
	links := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			links = append(links, s)
		}
	}
	return links
}

// SortByName returns a copy of items ordered case-insensitively by their
// "name" (or "title") field. Items are not copied.
func SortByName(items []swapi.Resource) []swapi.Resource {
	out := slices.Clone(items)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(displayName(out[i])) < strings.ToLower(displayName(out[j]))
	})
	return out
}

func displayName(r swapi.Resource) string {
	if s, ok := r["name"].(string); ok {
		return s
	}
	s, _ := r["title"].(string)
	return s
}

// sortByEpisode orders films by episode_id; films without one sort last.
func sortByEpisode(films []swapi.Resource) {
	episode := func(r swapi.Resource) float64 {
		if n, ok := r["episode_id"].(float64); ok {
			return n
		}
		return 1 << 30
	}
	sort.SliceStable(films, func(i, j int) bool { return episode(films[i]) < episode(films[j]) })
}
