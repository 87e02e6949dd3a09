// Package diff renders line-oriented text diffs for the change review
// surface.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	KindContext = "context"
	KindAdded   = "added"
	KindRemoved = "removed"
)

// DefaultMaxLines bounds how large a diff the review surface will render.
const DefaultMaxLines = 5000

// Line is one row of a rendered diff. OldLine/NewLine are 1-based and zero
// when the line does not exist on that side.
type Line struct {
	Kind    string `json:"kind"`
	Text    string `json:"text"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

// Lines computes a line-level diff between two texts.
func Lines(before, after string) []Line {
	dmp := diffmatchpatch.New()
	beforeRunes, afterRunes, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(beforeRunes, afterRunes, false), lineArray)

	var out []Line
	oldLine, newLine := 1, 1
	for _, d := range diffs {
		chunk := strings.Split(d.Text, "\n")
		if len(chunk) > 0 && chunk[len(chunk)-1] == "" {
			chunk = chunk[:len(chunk)-1]
		}
		for _, text := range chunk {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				out = append(out, Line{Kind: KindContext, Text: text, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				out = append(out, Line{Kind: KindRemoved, Text: text, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				out = append(out, Line{Kind: KindAdded, Text: text, NewLine: newLine})
				newLine++
			}
		}
	}
	return out
}

// LinesWithLimit refuses to diff inputs whose combined line count exceeds
// maxLines (or DefaultMaxLines when maxLines <= 0). The second return
// reports whether the diff was skipped for size.
func LinesWithLimit(before, after string, maxLines int) ([]Line, bool) {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if lineCount(before)+lineCount(after) > maxLines {
		return nil, true
	}
	return Lines(before, after), false
}

// Unified renders lines in unified-diff style for terminal output.
func Unified(path string, lines []Line) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", path, path)
	for _, line := range lines {
		switch line.Kind {
		case KindAdded:
			b.WriteString("+")
		case KindRemoved:
			b.WriteString("-")
		default:
			b.WriteString(" ")
		}
		b.WriteString(line.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func lineCount(value string) int {
	if value == "" {
		return 0
	}
	return strings.Count(value, "\n") + 1
}
