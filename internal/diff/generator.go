// Package diff renders unified previews of pending file actions so a change
// can be reviewed before it is approved.
package diff

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const maxDiffBytes = 10 * 1024 * 1024

// Generator produces colorized unified diffs.
type Generator struct {
	contextLines int
	colorEnabled bool
}

// NewGenerator creates a diff generator. contextLines bounds how much
// unchanged text surrounds each change; values below zero mean unlimited.
func NewGenerator(contextLines int, colorEnabled bool) *Generator {
	return &Generator{
		contextLines: contextLines,
		colorEnabled: colorEnabled,
	}
}

// DiffResult contains the rendered diff and its statistics.
type DiffResult struct {
	UnifiedDiff  string
	AddedLines   int
	DeletedLines int
	ChangedFiles int
	IsBinary     bool
}

// GenerateUnified renders the change from oldContent to newContent.
func (g *Generator) GenerateUnified(oldContent, newContent, filename string) (*DiffResult, error) {
	return g.generate(oldContent, newContent, "a/"+filename, "b/"+filename)
}

// PreviewCreate renders a new file body as pure additions.
func (g *Generator) PreviewCreate(content, filename string) (*DiffResult, error) {
	return g.generate("", content, "/dev/null", "b/"+filename)
}

// PreviewDelete renders a removed file body as pure deletions.
func (g *Generator) PreviewDelete(content, filename string) (*DiffResult, error) {
	return g.generate(content, "", "a/"+filename, "/dev/null")
}

func (g *Generator) generate(oldContent, newContent, oldLabel, newLabel string) (*DiffResult, error) {
	if oldContent == newContent {
		return &DiffResult{}, nil
	}

	if isBinary(oldContent) || isBinary(newContent) {
		return &DiffResult{
			UnifiedDiff:  fmt.Sprintf("Binary file %s has changed", displayName(oldLabel, newLabel)),
			ChangedFiles: 1,
			IsBinary:     true,
		}, nil
	}

	if len(oldContent) > maxDiffBytes || len(newContent) > maxDiffBytes {
		return &DiffResult{
			UnifiedDiff:  fmt.Sprintf("--- %s\n+++ %s\n@@ Large file, diff skipped @@\n", oldLabel, newLabel),
			ChangedFiles: 1,
		}, nil
	}

	// Line-mode diff keeps every chunk on whole-line boundaries, so the
	// renderer below never has to split a change mid-line.
	dmp := diffmatchpatch.New()
	oldChars, newChars, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldChars, newChars, false), lineArray)

	var body strings.Builder
	added, deleted := 0, 0
	for i, d := range diffs {
		lines := chunkLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(lines)
			for _, line := range lines {
				body.WriteString(g.colorize("+"+line+"\n", color.FgGreen))
			}
		case diffmatchpatch.DiffDelete:
			deleted += len(lines)
			for _, line := range lines {
				body.WriteString(g.colorize("-"+line+"\n", color.FgRed))
			}
		case diffmatchpatch.DiffEqual:
			for _, line := range g.clampContext(lines, i == 0, i == len(diffs)-1) {
				if line == elisionMark {
					body.WriteString(g.colorize(elisionMark+"\n", color.FgCyan))
					continue
				}
				body.WriteString(" " + line + "\n")
			}
		}
	}

	var out strings.Builder
	out.WriteString(g.colorize("--- "+oldLabel+"\n", color.FgRed))
	out.WriteString(g.colorize("+++ "+newLabel+"\n", color.FgGreen))
	out.WriteString(body.String())

	return &DiffResult{
		UnifiedDiff:  out.String(),
		AddedLines:   added,
		DeletedLines: deleted,
		ChangedFiles: 1,
	}, nil
}

const elisionMark = "@@"

// clampContext trims an unchanged run down to the configured context window.
// Runs at the very start or end of the file keep only the side that borders
// a change.
func (g *Generator) clampContext(lines []string, first, last bool) []string {
	n := g.contextLines
	if n < 0 {
		return lines
	}
	keepHead, keepTail := n, n
	if first {
		keepHead = 0
	}
	if last {
		keepTail = 0
	}
	if len(lines) <= keepHead+keepTail+1 {
		return lines
	}
	out := make([]string, 0, keepHead+keepTail+1)
	out = append(out, lines[:keepHead]...)
	out = append(out, elisionMark)
	out = append(out, lines[len(lines)-keepTail:]...)
	return out
}

// chunkLines splits a whole-line chunk, dropping the phantom element a
// trailing newline produces.
func chunkLines(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// displayName strips the a/ or b/ prefix from whichever label names a real
// file, preferring the new side.
func displayName(oldLabel, newLabel string) string {
	if newLabel != "/dev/null" {
		return strings.TrimPrefix(newLabel, "b/")
	}
	return strings.TrimPrefix(oldLabel, "a/")
}

func (g *Generator) colorize(text string, colorAttr color.Attribute) string {
	if !g.colorEnabled {
		return text
	}
	return color.New(colorAttr).Sprint(text)
}

// isBinary checks for null bytes in the first 8000 bytes.
func isBinary(content string) bool {
	checkLen := min(len(content), 8000)
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

// FormatSummary returns a human-readable one-liner for queue listings.
func (dr *DiffResult) FormatSummary() string {
	if dr.IsBinary {
		return "Binary file changed"
	}
	if dr.AddedLines == 0 && dr.DeletedLines == 0 {
		return "No changes"
	}
	var parts []string
	if dr.AddedLines > 0 {
		parts = append(parts, fmt.Sprintf("+%d lines", dr.AddedLines))
	}
	if dr.DeletedLines > 0 {
		parts = append(parts, fmt.Sprintf("-%d lines", dr.DeletedLines))
	}
	return strings.Join(parts, ", ")
}
