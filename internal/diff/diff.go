// Package diff renders line diffs between a final file and its staged
// counterpart.
package diff

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Line struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Lines    []Line `json:"lines"`
}

const (
	LineContext = "context"
	LineAdded   = "added"
	LineRemoved = "removed"
)

const (
	DefaultContext = 3
	MaxDiffLines   = 20000
)

// Patch is a unified diff from the final side ("From") to the staged side
// ("To"). Text is empty when both sides are identical.
type Patch struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"diff"`
	Added     int    `json:"added"`
	Removed   int    `json:"removed"`
	Hunks     []Hunk `json:"hunks"`
	Truncated bool   `json:"truncated,omitempty"`
}

// SplitLines splits text into lines without terminators. "\r\n" counts as
// one break and a trailing newline does not produce an empty last line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// lineRuneBase is the first rune used to stand for a line. Runes above the
// BMP never collide with the surrogate range.
const lineRuneBase = 0x10000

// Lines returns the full line-level edit script between before and after.
// Every distinct line is mapped to a single rune so the character diff works
// on whole lines.
func Lines(before, after []string) []Line {
	index := map[string]rune{}
	var table []string
	encode := func(lines []string) ([]rune, bool) {
		runes := make([]rune, len(lines))
		for i, line := range lines {
			r, ok := index[line]
			if !ok {
				r = rune(lineRuneBase + len(table))
				if r > unicode.MaxRune {
					return nil, false
				}
				index[line] = r
				table = append(table, line)
			}
			runes[i] = r
		}
		return runes, true
	}
	beforeRunes, okBefore := encode(before)
	afterRunes, okAfter := encode(after)
	if !okBefore || !okAfter {
		return replaceAll(before, after)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMainRunes(beforeRunes, afterRunes, false)

	var lines []Line
	oldLine, newLine := 1, 1
	for _, d := range diffs {
		for _, r := range d.Text {
			text := table[r-lineRuneBase]
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, Line{Type: LineContext, Text: text, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				lines = append(lines, Line{Type: LineRemoved, Text: text, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				lines = append(lines, Line{Type: LineAdded, Text: text, NewLine: newLine})
				newLine++
			}
		}
	}
	return lines
}

// replaceAll removes every old line and adds every new one.
func replaceAll(before, after []string) []Line {
	lines := make([]Line, 0, len(before)+len(after))
	for i, text := range before {
		lines = append(lines, Line{Type: LineRemoved, Text: text, OldLine: i + 1})
	}
	for i, text := range after {
		lines = append(lines, Line{Type: LineAdded, Text: text, NewLine: i + 1})
	}
	return lines
}

// Unified builds a unified diff with the given number of context lines.
// When the combined line count exceeds maxLines the patch carries only the
// labels and Truncated is set.
func Unified(from, to string, before, after []string, context, maxLines int) *Patch {
	if context < 0 {
		context = DefaultContext
	}
	if maxLines <= 0 {
		maxLines = MaxDiffLines
	}
	patch := &Patch{From: from, To: to, Hunks: []Hunk{}}
	if len(before)+len(after) > maxLines {
		patch.Truncated = true
		return patch
	}
	lines := Lines(before, after)
	for _, line := range lines {
		switch line.Type {
		case LineAdded:
			patch.Added++
		case LineRemoved:
			patch.Removed++
		}
	}
	if patch.Added == 0 && patch.Removed == 0 {
		return patch
	}
	patch.Hunks = group(lines, context)

	var b strings.Builder
	b.WriteString("--- " + from + "\n")
	b.WriteString("+++ " + to)
	for _, h := range patch.Hunks {
		b.WriteString("\n@@ -" + formatRange(h.OldStart, h.OldLines) + " +" + formatRange(h.NewStart, h.NewLines) + " @@")
		for _, line := range h.Lines {
			b.WriteByte('\n')
			switch line.Type {
			case LineAdded:
				b.WriteByte('+')
			case LineRemoved:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(line.Text)
		}
	}
	patch.Text = b.String()
	return patch
}

// group cuts the edit script into hunks. Changes separated by more than
// 2*context unchanged lines land in different hunks.
func group(lines []Line, context int) []Hunk {
	// oldBefore[i] and newBefore[i] count the lines of each side that come
	// before position i.
	oldBefore := make([]int, len(lines)+1)
	newBefore := make([]int, len(lines)+1)
	for i, line := range lines {
		oldBefore[i+1], newBefore[i+1] = oldBefore[i], newBefore[i]
		if line.Type != LineAdded {
			oldBefore[i+1]++
		}
		if line.Type != LineRemoved {
			newBefore[i+1]++
		}
	}

	var changes []int
	for i, line := range lines {
		if line.Type != LineContext {
			changes = append(changes, i)
		}
	}

	var hunks []Hunk
	start := max(0, changes[0]-context)
	last := changes[0]
	flush := func(end int) {
		h := Hunk{
			OldLines: oldBefore[end] - oldBefore[start],
			NewLines: newBefore[end] - newBefore[start],
			Lines:    append([]Line(nil), lines[start:end]...),
		}
		h.OldStart = oldBefore[start]
		if h.OldLines > 0 {
			h.OldStart++
		}
		h.NewStart = newBefore[start]
		if h.NewLines > 0 {
			h.NewStart++
		}
		hunks = append(hunks, h)
	}
	for _, idx := range changes[1:] {
		if idx-last-1 > 2*context {
			flush(last + context + 1)
			start = idx - context
		}
		last = idx
	}
	flush(min(len(lines), last+context+1))
	return hunks
}

func formatRange(start, length int) string {
	if length == 1 {
		return strconv.Itoa(start)
	}
	return strconv.Itoa(start) + "," + strconv.Itoa(length)
}

