// Package patch locates a described "before" snippet inside a live document
// so the span can be replaced in place. Matching is exact first, then falls
// back to a whitespace-tolerant line comparison, which copes with agents that
// reproduce code with drifted indentation.
package patch

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound reports that neither matching stage located the snippet.
	ErrNotFound = errors.New("patch target not found")
	// ErrEmptyBlock reports a before-snippet that is empty after trimming.
	// Kept distinct from ErrNotFound so callers can tell a bad action from a
	// drifted file.
	ErrEmptyBlock = errors.New("empty patch block")
)

// Range is a half-open byte range [Start, End) within a document.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of bytes the range covers.
func (r Range) Len() int {
	return r.End - r.Start
}

// Locate finds the span of doc described by before.
//
// Stage 1 takes the first exact occurrence of before as a substring, with no
// normalization. Stage 2 splits both texts into lines, drops blank lines at
// the edges of before, and scans candidate start lines in ascending order;
// a candidate matches when every line pair is equal after each side is
// whitespace-trimmed independently. The first match wins and the returned
// range covers whole document lines, so the original indentation of the
// matched lines is replaced along with their content.
//
// A before that is empty after trimming yields ErrEmptyBlock without
// attempting either stage; an exact match against a bare whitespace run is
// never useful. The result depends only on the two inputs.
func Locate(doc, before string) (Range, error) {
	if strings.TrimSpace(before) == "" {
		return Range{}, ErrEmptyBlock
	}

	if idx := strings.Index(doc, before); idx >= 0 {
		return Range{Start: idx, End: idx + len(before)}, nil
	}

	docLines := splitLines(doc)
	eff := effectiveLines(before)
	n := len(eff)

	for i := 0; i+n <= len(docLines); i++ {
		if !matchesAt(docLines, eff, i) {
			continue
		}
		last := docLines[i+n-1]
		return Range{Start: docLines[i].start, End: last.start + len(last.text)}, nil
	}
	return Range{}, ErrNotFound
}

// Apply replaces the span of doc described by before with content.
func Apply(doc, before, content string) (string, error) {
	r, err := Locate(doc, before)
	if err != nil {
		return "", err
	}
	return doc[:r.Start] + content + doc[r.End:], nil
}

type docLine struct {
	start int
	text  string
}

func splitLines(s string) []docLine {
	var lines []docLine
	start := 0
	for {
		i := strings.IndexByte(s[start:], '\n')
		if i < 0 {
			lines = append(lines, docLine{start: start, text: s[start:]})
			return lines
		}
		lines = append(lines, docLine{start: start, text: s[start : start+i]})
		start += i + 1
	}
}

// effectiveLines returns before's lines with leading and trailing blank lines
// removed. Internal blank lines stay, and line bodies keep their whitespace;
// trimming happens per comparison.
func effectiveLines(before string) []string {
	lines := strings.Split(before, "\n")
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}

func matchesAt(doc []docLine, eff []string, i int) bool {
	for j, want := range eff {
		if strings.TrimSpace(doc[i+j].text) != strings.TrimSpace(want) {
			return false
		}
	}
	return true
}
