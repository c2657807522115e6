package cache

import (
	"fmt"
	"net/url"
	"strings"
)

// KeySeparator joins key components.
const KeySeparator = "_"

// Key builds a cache key from a kind and its identifying parts, e.g.
// Key("film", "1", "characters") == "film_1_characters".
func Key(kind string, parts ...string) string {
	if len(parts) == 0 {
		return kind
	}
	return kind + KeySeparator + strings.Join(parts, KeySeparator)
}

// LinkKey derives the key for a reference link from its last two path
// segments: "https://swapi.dev/api/people/1/" becomes "people_1".
func LinkKey(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("cache: parse link %q: %w", link, err)
	}
	segs := make([]string, 0, 4)
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) < 2 {
		return "", fmt.Errorf("cache: link %q has no resource/id path", link)
	}
	return Key(segs[len(segs)-2], segs[len(segs)-1]), nil
}
