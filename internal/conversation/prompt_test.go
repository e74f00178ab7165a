package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPromptEmptyHistory(t *testing.T) {
	prompt := BuildPrompt("", nil)

	assert.Equal(t, DefaultPreamble+"[/INST]", prompt)
}

func TestBuildPromptFormatsTurnsInOrder(t *testing.T) {
	turns := []Turn{
		{Question: "write a fibonacci function"},
		{Answer: "def fib(n): ..."},
		{Question: "now in Go"},
	}

	prompt := BuildPrompt("SYS:", turns)

	want := "SYS:" +
		"\nQuestion: write a fibonacci function" +
		"\nAnswer: def fib(n): ..." +
		"\nQuestion: now in Go" +
		"[/INST]"
	assert.Equal(t, want, prompt)
}

func TestBuildPromptTurnWithBothFields(t *testing.T) {
	prompt := BuildPrompt("P", []Turn{{Question: "q", Answer: "a"}})

	assert.Equal(t, "P\nQuestion: q\nAnswer: a[/INST]", prompt)
}

func TestBuildPromptSkipsEmptyFields(t *testing.T) {
	prompt := BuildPrompt("P", []Turn{{}, {Question: "q"}, {Answer: ""}})

	assert.Equal(t, "P\nQuestion: q[/INST]", prompt)
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	turns := []Turn{{Question: "a"}, {Answer: "b"}, {Question: "c"}}
	copyOfTurns := append([]Turn(nil), turns...)

	first := BuildPrompt("", turns)
	second := BuildPrompt("", copyOfTurns)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "<s>[INST] <<SYS>>"))
	assert.True(t, strings.HasSuffix(first, "[/INST]"))
}

func TestWindow(t *testing.T) {
	turns := []Turn{{Question: "1"}, {Answer: "2"}, {Question: "3"}, {Answer: "4"}}

	tests := []struct {
		name string
		max  int
		want []Turn
	}{
		{name: "unbounded", max: 0, want: turns},
		{name: "negative", max: -1, want: turns},
		{name: "larger than history", max: 10, want: turns},
		{name: "last two", max: 2, want: []Turn{{Question: "3"}, {Answer: "4"}}},
		{name: "orphan answer dropped", max: 3, want: []Turn{{Question: "3"}, {Answer: "4"}}},
		{name: "only orphan answer", max: 1, want: []Turn{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Window(turns, tt.max)
			assert.Equal(t, tt.want, got)
			if len(got) > 0 {
				assert.NotEmpty(t, got[0].Question, "window must start with a question")
			}
		})
	}
}
