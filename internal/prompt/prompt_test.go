package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/repoqa/internal/model"
)

func TestSelectFallsBackToFind(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	tests := []struct {
		tag  string
		want string
		temp float32
	}{
		{tag: "Bugs", want: "Bugs", temp: 0.7},
		{tag: "walkthrough", want: "Walkthrough", temp: 0.6},
		{tag: "", want: "Find", temp: 0.9},
		{tag: "Poetry", want: "Find", temp: 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			tpl := c.Select(tt.tag)
			assert.Equal(t, tt.want, tpl.Name)
			assert.InDelta(t, tt.temp, tpl.Temperature, 1e-6)
			assert.NotEmpty(t, tpl.Content)
		})
	}
}

func TestParseRejectsMissingDefault(t *testing.T) {
	_, err := Parse([]byte("default: Nope\ntemplates:\n  Find:\n    content: x\n"))
	require.Error(t, err)
}

func TestFormatHistoryKeepsLastTurnsInOrder(t *testing.T) {
	var msgs []model.Message
	for i := 0; i < 40; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		msgs = append(msgs, model.Message{Role: role, Content: string(rune('a' + i%26))})
	}
	out := FormatHistory(msgs, 30)
	parts := strings.Split(out, "\n\n")
	require.Len(t, parts, 30)
	assert.Equal(t, "USER: "+string(rune('a'+10)), parts[0])
	assert.Equal(t, "ASSISTANT: "+string(rune('a'+39%26)), parts[29])
	assert.Equal(t, noHistory, FormatHistory(nil, 30))
}

func TestBuildContextKeepsMostRelevant(t *testing.T) {
	big := strings.Repeat("x", 400)
	chunks := []model.Chunk{
		{FilePath: "a.go", DeclarationName: "A", StartLine: 1, EndLine: 2, Content: big},
		{FilePath: "b.go", DeclarationName: "B", StartLine: 1, EndLine: 2, Content: big},
		{FilePath: "c.go", DeclarationName: "C", StartLine: 1, EndLine: 2, Content: "small"},
	}
	text, used := BuildContext(chunks, 150)
	require.Len(t, used, 1)
	assert.Equal(t, "A", used[0].DeclarationName)
	assert.True(t, strings.HasPrefix(text, "FILE NAME: A \nFILE: a.go (lines 1-2)\n---\n"))
	assert.True(t, strings.HasSuffix(text, "\n===="))
	assert.LessOrEqual(t, EstimateTokens(text), 150)

	text, used = BuildContext(nil, 6000)
	assert.Empty(t, text)
	assert.Empty(t, used)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

func TestSystemAndUserPrompt(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	sys := SystemPrompt(c.Select("Debug"), []model.Message{{Role: model.RoleUser, Content: "hi"}}, 30)
	assert.Contains(t, sys, "investigation plan")
	assert.Contains(t, sys, "USER: hi")
	user := UserPrompt("", "Debug", "why?")
	assert.Contains(t, user, "no code was retrieved")
	assert.Contains(t, user, "why?")
}
