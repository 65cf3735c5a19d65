package action

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParser() *Parser {
	n := 0
	return &Parser{newID: func() string {
		n++
		return string(rune('a'+n-1)) + "-id"
	}}
}

func TestParseNoMarkers(t *testing.T) {
	p := testParser()
	actions, err := p.Parse("just prose, nothing to do here")
	assert.Nil(t, actions)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoActions))
}

func TestParseSingleCreate(t *testing.T) {
	p := testParser()
	actions, err := p.Parse("{{TOOL_CALL:CREATE}}\nFILE: a.txt\nCONTENT:\n```\nhello\n```\n")
	require.NoError(t, err)
	require.Len(t, actions, 1)

	act := actions[0]
	assert.Equal(t, KindCreate, act.Kind)
	assert.Equal(t, "a.txt", act.Path)
	require.NotNil(t, act.Content)
	assert.Equal(t, "hello", *act.Content)
	assert.NotEmpty(t, act.ID)
}

func TestParseModify(t *testing.T) {
	input := "Here is the fix:\n" +
		"{{TOOL_CALL:MODIFY}}\n" +
		"**FILE:** src/main.go\n" +
		"BEFORE:\n" +
		"```go\n" +
		"return 1\n" +
		"```\n" +
		"AFTER:\n" +
		"```go\n" +
		"return 2\n" +
		"```\n"

	p := testParser()
	actions, err := p.Parse(input)
	require.NoError(t, err)
	require.Len(t, actions, 1)

	act := actions[0]
	assert.Equal(t, KindModify, act.Kind)
	assert.Equal(t, "src/main.go", act.Path)
	require.NotNil(t, act.Before)
	assert.Equal(t, "return 1", *act.Before)
	require.NotNil(t, act.Content)
	assert.Equal(t, "return 2", *act.Content)
}

func TestParseMarkerTolerance(t *testing.T) {
	cases := []struct {
		name   string
		marker string
		kind   Kind
	}{
		{"braces", "{{TOOL_CALL:DELETE}}", KindDelete},
		{"bold", "**TOOL_CALL:DELETE**", KindDelete},
		{"bare", "TOOL_CALL:DELETE", KindDelete},
		{"spaced colon", "TOOL_CALL : DELETE", KindDelete},
		{"lowercase", "tool_call:delete", KindDelete},
		{"indented", "   {{TOOL_CALL:DELETE}}   ", KindDelete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actions, err := testParser().Parse(tc.marker + "\nFILE: x.txt\n")
			require.NoError(t, err)
			require.Len(t, actions, 1)
			assert.Equal(t, tc.kind, actions[0].Kind)
			assert.Equal(t, "x.txt", actions[0].Path)
		})
	}
}

func TestParseCaseInsensitiveLabels(t *testing.T) {
	input := "{{TOOL_CALL:SHELL}}\ncommand: npm test\n" +
		"{{TOOL_CALL:FETCH}}\nUrl: https://example.com/docs\n"
	actions, err := testParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "npm test", actions[0].Command)
	assert.Equal(t, "https://example.com/docs", actions[1].URL)
}

func TestParseUnrecognizedKindDropped(t *testing.T) {
	input := "{{TOOL_CALL:RENAME}}\nFILE: a.txt\n" +
		"{{TOOL_CALL:DELETE}}\nFILE: b.txt\n"
	actions, err := testParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, KindDelete, actions[0].Kind)
	assert.Equal(t, "b.txt", actions[0].Path)
}

func TestParseAllUnrecognized(t *testing.T) {
	actions, err := testParser().Parse("{{TOOL_CALL:RENAME}}\nFILE: a.txt\n")
	assert.Nil(t, actions)
	assert.True(t, errors.Is(err, ErrNoActions))
}

func TestParseFenceBlankEdges(t *testing.T) {
	input := "{{TOOL_CALL:CREATE}}\nFILE: a.txt\nCONTENT:\n```\n\n\nfirst\n\nsecond\n\n```\n"
	actions, err := testParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.NotNil(t, actions[0].Content)
	assert.Equal(t, "first\n\nsecond", *actions[0].Content)
}

func TestParseEmptyFenceCaptured(t *testing.T) {
	input := "{{TOOL_CALL:CREATE}}\nFILE: a.txt\nCONTENT:\n```\n```\n"
	actions, err := testParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	// Captured but empty is not the same as absent.
	require.NotNil(t, actions[0].Content)
	assert.Equal(t, "", *actions[0].Content)
}

func TestParseMissingFenceYieldsAbsent(t *testing.T) {
	input := "{{TOOL_CALL:MODIFY}}\nFILE: a.txt\nBEFORE:\nAFTER:\n"
	actions, err := testParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Nil(t, actions[0].Before)
	assert.Nil(t, actions[0].Content)
	assert.Equal(t, "before", actions[0].MissingField())
}

func TestParseUnterminatedFenceYieldsAbsent(t *testing.T) {
	input := "{{TOOL_CALL:CREATE}}\nFILE: a.txt\nCONTENT:\n```\ndangling\n"
	actions, err := testParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Nil(t, actions[0].Content)
}

func TestParseLabelsInsideFenceIgnored(t *testing.T) {
	input := "{{TOOL_CALL:MODIFY}}\n" +
		"BEFORE:\n" +
		"```\n" +
		"FILE: decoy.txt\n" +
		"```\n" +
		"FILE: real.txt\n" +
		"AFTER:\n" +
		"```\nok\n```\n"
	actions, err := testParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "real.txt", actions[0].Path)
	require.NotNil(t, actions[0].Before)
	assert.Equal(t, "FILE: decoy.txt", *actions[0].Before)
}

func TestParseModifyContentLabelFallback(t *testing.T) {
	input := "{{TOOL_CALL:MODIFY}}\nFILE: a.txt\nBEFORE:\n```\nold\n```\nCONTENT:\n```\nnew\n```\n"
	actions, err := testParser().Parse(input)
	require.NoError(t, err)
	require.NotNil(t, actions[0].Content)
	assert.Equal(t, "new", *actions[0].Content)
}

func TestParseBatchOrderAndIDs(t *testing.T) {
	input := "{{TOOL_CALL:DELETE}}\nFILE: one.txt\n" +
		"{{TOOL_CALL:SHELL}}\nCOMMAND: make build\n" +
		"{{TOOL_CALL:DELETE}}\nFILE: two.txt\n"
	actions, err := testParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "one.txt", actions[0].Path)
	assert.Equal(t, KindShell, actions[1].Kind)
	assert.Equal(t, "two.txt", actions[2].Path)

	seen := map[string]bool{}
	for _, act := range actions {
		assert.False(t, seen[act.ID])
		seen[act.ID] = true
	}
}

func TestParseCRLFInput(t *testing.T) {
	input := "{{TOOL_CALL:CREATE}}\r\nFILE: a.txt\r\nCONTENT:\r\n```\r\nhello\r\n```\r\n"
	actions, err := testParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.NotNil(t, actions[0].Content)
	assert.Equal(t, "hello", *actions[0].Content)
}

func TestParseTextBeforeFirstMarkerIgnored(t *testing.T) {
	input := "Some explanation first.\nFILE: red-herring.txt\n\n{{TOOL_CALL:DELETE}}\nFILE: gone.txt\n"
	actions, err := testParser().Parse(input)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "gone.txt", actions[0].Path)
}
