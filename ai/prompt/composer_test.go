package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/core/llm"
)

func TestSocraticModeFor(t *testing.T) {
	tests := []struct {
		prompt       string
		conversation bool
		want         SocraticMode
	}{
		{"Who wrote Beloved?", false, SocraticNone},
		{"When was Middlemarch published?", true, SocraticNone},
		{"How many chapters are in this book?", false, SocraticNone},
		{"Why does Gatsby reach for the green light?", false, SocraticInitial},
		{"What does the conch mean?", false, SocraticInitial},
		{"But couldn't it also be about hope?", true, SocraticFollowUp},
		{"List the characters", false, SocraticNone},
		{"", true, SocraticNone},
	}
	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			assert.Equal(t, tt.want, SocraticModeFor(tt.prompt, tt.conversation))
		})
	}
}

func TestCompose_LayerOrder(t *testing.T) {
	in := Input{
		Prompt: "Why is the portrayal of the colonial officers biased?",
		Intent: ai.QueryIntent{Type: ai.IntentAnalysis, ExpectedLength: ai.LengthDetailed},
		Mode:   ai.ModeDetailed,
		Knowledge: Knowledge{
			AdaptiveHints:  []string{"prefers examples"},
			StrongConcepts: []string{"irony"},
		},
		Excerpt: "Chapter One. The river was wide.",
	}
	got := Composer{}.Compose(in)

	persona := strings.Index(got.System, "literature tutor")
	length := strings.Index(got.System, "3-4 well-developed")
	perspectives := strings.Index(got.System, "Perspectives:")
	socratic := strings.Index(got.System, "Teaching style:")
	knowledge := strings.Index(got.System, "prefers examples")
	excerpt := strings.Index(got.System, "The river was wide.")

	for _, i := range []int{persona, length, perspectives, socratic, knowledge, excerpt} {
		assert.GreaterOrEqual(t, i, 0)
	}
	assert.Less(t, persona, length)
	assert.Less(t, length, perspectives)
	assert.Less(t, perspectives, socratic)
	assert.Less(t, socratic, knowledge)
	assert.Less(t, knowledge, excerpt)

	assert.Equal(t, in.Prompt, got.User)
	assert.True(t, strings.HasSuffix(got.Text(), in.Prompt), "question is the last layer")
	assert.Equal(t, []string{"perspectives", "socratic_initial", "knowledge", "excerpt"}, got.Overlays)
}

func TestCompose_Idempotent(t *testing.T) {
	in := Input{
		Prompt:          "And what about the ending?",
		Intent:          ai.QueryIntent{Type: ai.IntentFollowUp, ExpectedLength: ai.LengthModerate},
		Mode:            ai.ModeBrief,
		HasConversation: true,
		Knowledge:       Knowledge{Connections: []string{"Compare with Chapter 3 of Dubliners"}},
		Excerpt:         "  He walked home.  ",
	}
	c := Composer{}
	first := c.Compose(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Compose(in))
	}
}

func TestCompose_Minimal(t *testing.T) {
	got := Composer{}.Compose(Input{
		Prompt: "Who wrote Beloved?",
		Intent: ai.QueryIntent{Type: ai.IntentDefinition, ExpectedLength: ai.LengthBrief},
		Mode:   ai.ModeBrief,
	})
	assert.Contains(t, got.System, "reading companion")
	assert.Contains(t, got.System, "2-3 sentences")
	assert.NotContains(t, got.System, "Teaching style:")
	assert.NotContains(t, got.System, "Book excerpt")
	assert.Empty(t, got.Overlays)
}

func TestCompose_Excerpt(t *testing.T) {
	got := Composer{}.Compose(Input{
		Prompt:  "What chapter is this?",
		Mode:    ai.ModeBrief,
		Excerpt: "Some text without headings.",
	})
	assert.Contains(t, got.System, "Answer only from the excerpt above")
	assert.Contains(t, got.System, "instead of guessing chapter numbers")
}

func TestCompose_Simplification(t *testing.T) {
	got := Composer{}.Compose(Input{
		Prompt: "Explain like I'm 8 what a metaphor is",
		Intent: ai.QueryIntent{
			Type:           ai.IntentSimplification,
			ExpectedLength: ai.LengthSimplified,
			TargetAge:      8,
			CEFRLevel:      "A1",
		},
		Mode: ai.ModeBrief,
	})
	assert.Contains(t, got.System, "CEFR level A1")
	assert.Contains(t, got.System, "8-year-old")
	assert.Contains(t, got.System, "plain language")
}

func TestComposer_Persona(t *testing.T) {
	got := Composer{Persona: "Reader"}.Compose(Input{Prompt: "Who is Daisy?"})
	assert.True(t, strings.HasPrefix(got.System, "You are Reader,"))
}

func TestComposed_Request(t *testing.T) {
	c := Composed{System: "sys", User: "question"}
	req := c.Request(llm.TierEconomy, 500, 0.7)
	assert.Equal(t, "sys", req.System)
	assert.Equal(t, []llm.Message{llm.UserMessage("question")}, req.Messages)
	assert.Equal(t, llm.TierEconomy, req.Tier)
	assert.Equal(t, 500, req.MaxTokens)
	assert.Equal(t, "question", Composed{User: "question"}.Text())
}
