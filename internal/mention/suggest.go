package mention

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"golang.org/x/text/unicode/norm"

	"filegate/gateway/internal/project"
)

const defaultSuggestLimit = 20

const (
	KindAlias = "alias"
	KindRoot  = "root"
)

type Suggestion struct {
	Token string `json:"token"`
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Score int    `json:"score"`
}

type candidates []Suggestion

func (c candidates) String(i int) string { return strings.TrimPrefix(c[i].Token, "@") }
func (c candidates) Len() int            { return len(c) }

// Suggest ranks alias keys and root names against a partial mention. An
// empty partial returns every candidate, aliases first.
func Suggest(m *project.Manifest, partial string, limit int) []Suggestion {
	if limit <= 0 {
		limit = defaultSuggestLimit
	}
	pool := suggestionPool(m)
	pattern := norm.NFC.String(strings.TrimPrefix(strings.TrimSpace(partial), "@"))
	var out []Suggestion
	if pattern == "" {
		out = pool
	} else {
		for _, match := range fuzzy.FindFrom(pattern, pool) {
			s := pool[match.Index]
			s.Score = match.Score
			out = append(out, s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]Suggestion{}, out...)
}

func suggestionPool(m *project.Manifest) candidates {
	var pool candidates
	seen := map[string]bool{}
	for _, key := range sortedKeys(m.Aliases) {
		name := strings.TrimPrefix(key, "@")
		if seen[name] {
			continue
		}
		seen[name] = true
		value, _ := lookupAlias(m.Aliases, name)
		pool = append(pool, Suggestion{Token: "@" + name, Path: value, Kind: KindAlias})
	}
	for _, rel := range m.RootsRel() {
		if rel == "" || seen[rel] {
			continue
		}
		seen[rel] = true
		pool = append(pool, Suggestion{Token: "@" + rel, Path: rel, Kind: KindRoot})
	}
	return pool
}

func sortedKeys(aliases map[string]string) []string {
	keys := make([]string, 0, len(aliases))
	for key := range aliases {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
