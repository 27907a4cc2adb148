// Package mention extracts @token references from free text and resolves
// them to project-relative paths through the alias table and the sandbox.
package mention

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"filegate/gateway/internal/project"
	"filegate/gateway/internal/sandbox"
)

// Extract returns every @token in text in order of appearance, duplicates
// included. Tokens keep their leading "@" and are NFC-normalized.
func Extract(text string) []string {
	var tokens []string
	runes := []rune(norm.NFC.String(text))
	for i := 0; i < len(runes); i++ {
		if runes[i] != '@' {
			continue
		}
		j := i + 1
		for j < len(runes) && isTokenRune(runes[j]) {
			j++
		}
		if j > i+1 {
			tokens = append(tokens, string(runes[i:j]))
		}
		i = j - 1
	}
	return tokens
}

func isTokenRune(r rune) bool {
	switch r {
	case '_', '/', '.', '-':
		return true
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// Resolve maps token onto a project-relative path. The first segment is
// substituted from the alias table once; alias values are never expanded
// again. The result is cleaned and uses forward slashes.
func Resolve(m *project.Manifest, token string) (string, error) {
	body := norm.NFC.String(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "@")))
	if body == "" {
		return "", &sandbox.PathError{Op: "mention", Path: token, Err: sandbox.ErrInvalidPath}
	}
	body = strings.TrimLeft(sandbox.Normalize(body), "/")
	head, tail, hasTail := strings.Cut(body, "/")
	if value, ok := lookupAlias(m.Aliases, head); ok {
		head = strings.Trim(sandbox.Normalize(value), "/")
	}
	joined := head
	if hasTail {
		joined = head + "/" + tail
	}
	if _, err := sandbox.Resolve(m.Root, joined); err != nil {
		return "", &sandbox.PathError{Op: "mention", Path: token, Err: sandbox.ErrInvalidPath}
	}
	return path.Clean(joined), nil
}

// lookupAlias matches head against alias keys with any leading "@" removed.
// A bare key wins over an "@"-prefixed key with the same name.
func lookupAlias(aliases map[string]string, head string) (string, bool) {
	if value, ok := aliases[head]; ok {
		return value, true
	}
	if value, ok := aliases["@"+head]; ok {
		return value, true
	}
	for key, value := range aliases {
		if norm.NFC.String(strings.TrimPrefix(key, "@")) == head {
			return value, true
		}
	}
	return "", false
}

type Resolved struct {
	Token string `json:"token"`
	Path  string `json:"path,omitempty"`
	Err   error  `json:"-"`
}

// ResolveAll extracts and resolves every mention in text. Failures are
// reported per token; one bad mention does not hide the others.
func ResolveAll(m *project.Manifest, text string) []Resolved {
	tokens := Extract(text)
	results := make([]Resolved, 0, len(tokens))
	for _, token := range tokens {
		rel, err := Resolve(m, token)
		results = append(results, Resolved{Token: token, Path: rel, Err: err})
	}
	return results
}

// AliasHint renders the alias table as a prompt block. Empty when the
// project declares no aliases.
func AliasHint(m *project.Manifest) string {
	if len(m.Aliases) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nPROJECT FILE ALIASES (use with Read/Write):\n")
	for _, key := range sortedKeys(m.Aliases) {
		b.WriteString("- ")
		b.WriteString(key)
		b.WriteString(" => ")
		b.WriteString(m.Aliases[key])
		b.WriteString("\n")
	}
	b.WriteString("When the user mentions an alias (e.g., @routes), use Read/Write with " +
		"paths relative to the project root. If target does not exist, create it " +
		"under the current write directory shown above.")
	return b.String()
}
