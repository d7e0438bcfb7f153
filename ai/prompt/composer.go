// Package prompt assembles the instruction text sent to the provider.
//
// The system text is built from ordered layers: the persona for the response mode with
// its length target, an optional multi-perspective overlay, an optional Socratic
// overlay, caller-supplied knowledge, and the book excerpt. The learner's question is
// always the user message. Composition is a pure function of its input, so composing
// twice yields identical text.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/core/llm"
)

// SocraticMode selects the Socratic overlay.
type SocraticMode string

const (
	SocraticNone     SocraticMode = "none"
	SocraticInitial  SocraticMode = "initial"
	SocraticFollowUp SocraticMode = "followup"
)

var (
	perspectiveRe = regexp.MustCompile(`\b(perspectives?|point of view|viewpoints?|bias(ed)?|cultural|culture|colonial\w*|gender|racial|race|class|representation|stereotypes?)\b`)

	factualRe  = regexp.MustCompile(`^(when|who|what year|in what year|how many|how long|where)\b|\b(who wrote|who is the author|what year|when was|when did|published|how many chapters|how many pages|publication date|date of)\b`)
	learningRe = regexp.MustCompile(`\b(why|how|explain|understand|mean|meaning|means|theme|themes|significance|symbol\w*|motif|interpret\w*|help me)\b`)
)

// Knowledge is contextual material supplied by collaborators. It is appended verbatim.
type Knowledge struct {
	AdaptiveHints  []string `json:"adaptive_hints,omitempty"`
	Connections    []string `json:"connections,omitempty"`
	StrongConcepts []string `json:"strong_concepts,omitempty"`
}

// Empty reports whether k carries nothing.
func (k Knowledge) Empty() bool {
	return len(k.AdaptiveHints) == 0 && len(k.Connections) == 0 && len(k.StrongConcepts) == 0
}

// Input is everything the composer reads.
type Input struct {
	Prompt          string
	Intent          ai.QueryIntent
	Mode            ai.ResponseMode
	HasConversation bool
	Knowledge       Knowledge
	Excerpt         string
}

// Composed is the final instruction text.
type Composed struct {
	System string
	User   string
	// Overlays names the optional layers that were applied, for logging.
	Overlays []string
}

// Text joins system and user text, for callers that need a single string.
func (c Composed) Text() string {
	if c.System == "" {
		return c.User
	}
	return c.System + "\n\n" + c.User
}

// Request wraps the composed text into a provider request.
func (c Composed) Request(tier llm.Tier, maxTokens int, temperature float32) *llm.Request {
	return &llm.Request{
		System:      c.System,
		Messages:    []llm.Message{llm.UserMessage(c.User)},
		Tier:        tier,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// SocraticModeFor picks the Socratic overlay. Purely factual questions (dates,
// authorship, counts) get none; an ongoing conversation gets the follow-up variant;
// a first explanatory question gets the initial variant.
func SocraticModeFor(prompt string, hasConversation bool) SocraticMode {
	lower := strings.ToLower(strings.TrimSpace(prompt))
	if lower == "" || factualRe.MatchString(lower) {
		return SocraticNone
	}
	if hasConversation {
		return SocraticFollowUp
	}
	if learningRe.MatchString(lower) {
		return SocraticInitial
	}
	return SocraticNone
}

// NeedsPerspectives reports whether prompt asks about perspective, bias or cultural context.
func NeedsPerspectives(prompt string) bool {
	return perspectiveRe.MatchString(strings.ToLower(prompt))
}

// Composer builds prompts. The zero value is ready to use.
type Composer struct {
	// Persona overrides the product name used in the base persona.
	Persona string
}

// Compose layers the instruction text for in.
func (c Composer) Compose(in Input) Composed {
	var (
		layers   []string
		overlays []string
	)

	layers = append(layers, c.base(in))

	if NeedsPerspectives(in.Prompt) {
		layers = append(layers, perspectiveOverlay)
		overlays = append(overlays, "perspectives")
	}

	switch SocraticModeFor(in.Prompt, in.HasConversation) {
	case SocraticInitial:
		layers = append(layers, socraticInitialOverlay)
		overlays = append(overlays, "socratic_initial")
	case SocraticFollowUp:
		layers = append(layers, socraticFollowUpOverlay)
		overlays = append(overlays, "socratic_followup")
	}

	if k := renderKnowledge(in.Knowledge); k != "" {
		layers = append(layers, k)
		overlays = append(overlays, "knowledge")
	}

	if excerpt := strings.TrimSpace(in.Excerpt); excerpt != "" {
		layers = append(layers, fmt.Sprintf(excerptTemplate, excerpt))
		overlays = append(overlays, "excerpt")
	}

	return Composed{
		System:   strings.Join(layers, "\n\n"),
		User:     strings.TrimSpace(in.Prompt),
		Overlays: overlays,
	}
}

func (c Composer) base(in Input) string {
	name := c.Persona
	if name == "" {
		name = "BookBridge"
	}

	var b strings.Builder
	if in.Mode == ai.ModeDetailed {
		fmt.Fprintf(&b, detailedPersona, name)
	} else {
		fmt.Fprintf(&b, briefPersona, name)
	}
	b.WriteString("\n")
	b.WriteString(lengthTarget(in.Intent.ExpectedLength, in.Mode))

	if in.Intent.Type == ai.IntentSimplification {
		level := in.Intent.CEFRLevel
		if level == "" {
			level = "A2"
		}
		fmt.Fprintf(&b, "\nUse vocabulary at CEFR level %s: short sentences, common words, one idea at a time.", level)
		if in.Intent.TargetAge > 0 {
			fmt.Fprintf(&b, " Write so a %d-year-old can follow.", in.Intent.TargetAge)
		}
	}
	return b.String()
}

func lengthTarget(length ai.ExpectedLength, mode ai.ResponseMode) string {
	switch length {
	case ai.LengthBrief:
		return "Length: 2-3 sentences. Answer directly."
	case ai.LengthSimplified:
		return "Length: a short paragraph in plain language, with one concrete everyday example."
	case ai.LengthDetailed:
		if mode == ai.ModeDetailed {
			return "Length: 3-4 well-developed, connected paragraphs."
		}
		return "Length: one focused paragraph covering the essential point."
	default:
		if mode == ai.ModeDetailed {
			return "Length: 2-3 paragraphs."
		}
		return "Length: one short paragraph."
	}
}

func renderKnowledge(k Knowledge) string {
	if k.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("What you know about this learner and reading:")
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString("\n")
		b.WriteString(title)
		b.WriteString(":")
		for _, item := range items {
			b.WriteString("\n- ")
			b.WriteString(item)
		}
	}
	section("Adaptive hints", k.AdaptiveHints)
	section("Connections to other reading", k.Connections)
	section("Concepts the learner already knows well", k.StrongConcepts)
	return b.String()
}

const briefPersona = `You are %s, a friendly reading companion helping a learner understand the book they are reading.
Be accurate and concrete. Do not pad the answer or restate the question.`

const detailedPersona = `You are %s, a knowledgeable literature tutor helping a learner understand the book they are reading in depth.
Ground claims in the text, explain your reasoning, and connect details to the larger work.`

const perspectiveOverlay = `Perspectives: present more than one cultural or critical viewpoint where relevant.
Name the historical and cultural context of the text, acknowledge possible bias in the work and its readers, and avoid presenting one reading as the only valid one.`

const socraticInitialOverlay = `Teaching style: after answering, ask one open question that invites the learner to reason further about the text.
Do not quiz on trivia.`

const socraticFollowUpOverlay = `Teaching style: this continues an ongoing dialogue. Build on what the learner just said, acknowledge their reasoning, and guide them one step further with a single question.`

const excerptTemplate = `Book excerpt:
"""
%s
"""
Answer only from the excerpt above. If it does not contain the answer, say so plainly.
If the excerpt has no chapter headings or table of contents, say that plainly instead of guessing chapter numbers or structure.`
