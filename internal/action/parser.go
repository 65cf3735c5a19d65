package action

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/toolq/toolq/internal/id"
)

// ErrNoActions reports a parse batch that yielded zero recognizable actions.
var ErrNoActions = errors.New("no actions recognized")

// Emphasis punctuation tolerated around markers and labels.
const emphasisCutset = "*_~{}` \t"

var (
	markerPattern = regexp.MustCompile(`(?i)^TOOL_CALL\s*:\s*([A-Za-z_]+)$`)
	labelPattern  = regexp.MustCompile("(?i)^([A-Za-z]+)[ \t]*[*_~`]*:[*~`]*[ \t]*(.*)$")
)

// Parser extracts actions from agent-response text. One Parser may be shared
// across batches; ids stay unique for the life of the process.
type Parser struct {
	newID func() string
}

// NewParser returns a Parser that assigns prefixed KSUID action ids.
func NewParser() *Parser {
	return &Parser{newID: id.NewActionID}
}

// Parse scans text for TOOL_CALL blocks in textual order and decodes each
// recognized block into an Action. Blocks with an unrecognized kind are
// dropped silently; a recognized block always yields an action even when a
// required field was not captured (execution surfaces that). A batch that
// yields zero actions reports ErrNoActions.
func (p *Parser) Parse(text string) ([]Action, error) {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")

	var actions []Action
	for _, block := range splitBlocks(lines) {
		kind, ok := kindForToken(block.kind)
		if !ok {
			continue
		}
		actions = append(actions, p.decodeBlock(kind, block.lines))
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("parse batch: %w", ErrNoActions)
	}
	return actions, nil
}

type rawBlock struct {
	kind  string
	lines []string
}

// splitBlocks cuts the line stream at every TOOL_CALL marker. Each block runs
// from its marker to the next marker or the end of text.
func splitBlocks(lines []string) []rawBlock {
	var blocks []rawBlock
	start := -1
	token := ""
	flush := func(end int) {
		if start >= 0 {
			blocks = append(blocks, rawBlock{kind: token, lines: lines[start+1 : end]})
		}
	}
	for i, line := range lines {
		if tok, ok := markerToken(line); ok {
			flush(i)
			start, token = i, tok
		}
	}
	flush(len(lines))
	return blocks
}

// markerToken reports whether line is a TOOL_CALL:<KIND> marker, tolerating
// surrounding whitespace and emphasis punctuation, and returns the kind token.
func markerToken(line string) (string, bool) {
	stripped := strings.Trim(line, emphasisCutset)
	m := markerPattern.FindStringSubmatch(stripped)
	if m == nil {
		return "", false
	}
	return strings.ToUpper(m[1]), true
}

func kindForToken(token string) (Kind, bool) {
	switch token {
	case "MODIFY":
		return KindModify, true
	case "CREATE":
		return KindCreate, true
	case "DELETE":
		return KindDelete, true
	case "SHELL":
		return KindShell, true
	case "FETCH":
		return KindFetch, true
	}
	return "", false
}

func (p *Parser) decodeBlock(kind Kind, lines []string) Action {
	fields := extractFields(lines)
	act := Action{ID: p.newID(), Kind: kind}
	switch kind {
	case KindModify:
		act.Path = fields.scalars["FILE"]
		act.Before = fields.fences["BEFORE"]
		act.Content = firstNonNil(fields.fences["AFTER"], fields.fences["CONTENT"])
	case KindCreate:
		act.Path = fields.scalars["FILE"]
		act.Content = firstNonNil(fields.fences["CONTENT"], fields.fences["AFTER"])
	case KindDelete:
		act.Path = fields.scalars["FILE"]
	case KindShell:
		act.Command = fields.scalars["COMMAND"]
	case KindFetch:
		act.URL = fields.scalars["URL"]
	}
	return act
}

type blockFields struct {
	scalars map[string]string
	fences  map[string]*string
}

// extractFields walks a block once. A scalar label takes the first matching
// line outside any fenced region, so code inside BEFORE/AFTER snippets cannot
// shadow the block's own fields. A fence label records where it sits and then
// captures the first fenced region opening after it.
func extractFields(lines []string) blockFields {
	fields := blockFields{
		scalars: make(map[string]string),
		fences:  make(map[string]*string),
	}
	spans := fenceSpans(lines)

	labelAt := make(map[string]int)
	for i, line := range lines {
		if insideFence(i, spans) {
			continue
		}
		stripped := strings.Trim(line, emphasisCutset)
		m := labelPattern.FindStringSubmatch(stripped)
		if m == nil {
			continue
		}
		label := strings.ToUpper(m[1])
		switch label {
		case "FILE", "COMMAND", "URL":
			if _, seen := fields.scalars[label]; !seen {
				fields.scalars[label] = strings.TrimSpace(m[2])
			}
		case "BEFORE", "AFTER", "CONTENT":
			if _, seen := labelAt[label]; !seen {
				labelAt[label] = i
			}
		}
	}

	for label, at := range labelAt {
		if body := captureFence(lines, spans, at); body != nil {
			fields.fences[label] = body
		}
	}
	return fields
}

// span holds the line indexes of a fenced region's delimiters. close is -1
// for a fence that never closes before the block ends.
type span struct {
	open, close int
}

func fenceSpans(lines []string) []span {
	var spans []span
	open := -1
	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		if open == -1 {
			open = i
		} else {
			spans = append(spans, span{open: open, close: i})
			open = -1
		}
	}
	if open != -1 {
		spans = append(spans, span{open: open, close: -1})
	}
	return spans
}

func insideFence(i int, spans []span) bool {
	for _, s := range spans {
		if i < s.open {
			return false
		}
		if s.close == -1 || i <= s.close {
			return true
		}
	}
	return false
}

// captureFence returns the body of the first fenced region opening after the
// label line. The fence's language tag is discarded with the delimiter line;
// fence-adjacent blank lines are stripped, internal blank lines are kept.
// Returns nil when no well-formed fence follows the label.
func captureFence(lines []string, spans []span, labelAt int) *string {
	for _, s := range spans {
		if s.open <= labelAt {
			continue
		}
		if s.close == -1 {
			return nil
		}
		body := trimBlankEdges(lines[s.open+1 : s.close])
		text := strings.Join(body, "\n")
		return &text
	}
	return nil
}

func trimBlankEdges(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}

func firstNonNil(values ...*string) *string {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
