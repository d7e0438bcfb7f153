// Package classifier maps a learner question to an intent and a target answer length.
package classifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/francktshibala/bookbridge/ai"
)

// Input is the pre-processed prompt handed to every rule.
type Input struct {
	Prompt          string
	Lower           string
	Words           []string
	HasConversation bool
}

// Rule is one row of the classification table. When reports whether the rule fires;
// Enrich, if set, may refine the intent from the input (e.g. extract a target age).
type Rule struct {
	Name   string
	When   func(in Input) bool
	Intent ai.QueryIntent
	Enrich func(in Input, intent *ai.QueryIntent)
}

// Pre-compiled patterns, grouped by the rule that uses them.
var (
	simplifyRe = regexp.MustCompile(`\b(explain|tell me|say it|describe)\b.*\b(like|as if)\s+(i'?m|i am)\b|\beli\d+\b|\bsimpler\b|\bsimplify\b|\bin simple (terms|words|language)\b|\b(easier|plain) (words|language|english)\b|\bfor (a|an)\s+(\d{1,2})[- ]?(year|yr)s?[- ]old\b|\bfor (a )?(kid|child|beginner)s?\b|\bdumb (it )?down\b`)
	ageRe      = regexp.MustCompile(`(\d{1,2})[- ]?(?:year|yr)s?[- ]old|(?:i'?m|i am)\s+(\d{1,2})\b|\beli(\d{1,2})\b`)

	brevityRe    = regexp.MustCompile(`\b(briefly|in short|in brief|short answer|quick(ly)? answer|in one sentence|in a sentence|tl;?dr|in a nutshell)\b`)
	definitionRe = regexp.MustCompile(`^(what|who)\s+(is|are|was|were)\b|^what('s| does .+ mean)|\bdefine\b|\bdefinition of\b|\bmeaning of\b`)

	comparisonRe = regexp.MustCompile(`\b(compare|comparing|comparison|contrast|difference between|differences between|similarities between|versus|vs\.?)\b`)
	analysisRe   = regexp.MustCompile(`\b(analy[sz]e|analysis|discuss|evaluate|examine|interpret|critique|significance of|in depth|in detail|explore)\b`)

	clarifyRe = regexp.MustCompile(`\b(i don'?t understand|i do not understand|what do you mean|i'?m confused|i am confused|can you clarify|could you clarify|not sure what you mean|that doesn'?t make sense|lost me)\b`)

	connectiveRe    = regexp.MustCompile(`^(and|but|so|also|then|what about|how about|and what|why not|okay|ok|then why)\b|\b(you said|you mentioned|earlier|that part|the last one)\b`)
	interrogativeRe = regexp.MustCompile(`^(why|how|what|which|who|when|where|is|are|does|do|can|could)\b`)

	whyHowRe = regexp.MustCompile(`\b(why|how)\b`)

	apostrophes = strings.NewReplacer("\u2019", "'", "\u2018", "'")
)

// CEFRForAge maps a reader's age to a vocabulary level.
func CEFRForAge(age int) string {
	switch {
	case age <= 0:
		return "A2"
	case age <= 8:
		return "A1"
	case age <= 11:
		return "A2"
	case age <= 14:
		return "B1"
	default:
		return "B2"
	}
}

func extractAge(lower string) int {
	m := ageRe.FindStringSubmatch(lower)
	if m == nil {
		return 0
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		if age, err := strconv.Atoi(g); err == nil && age > 0 && age < 100 {
			return age
		}
	}
	return 0
}

// DefaultRules returns the standard ordered table. Earlier rules win.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "simplification",
			When: func(in Input) bool { return simplifyRe.MatchString(in.Lower) },
			Intent: ai.QueryIntent{
				Type:           ai.IntentSimplification,
				ExpectedLength: ai.LengthSimplified,
				Complexity:     ai.ComplexityLow,
				Confidence:     0.9,
				Reasoning:      "explicit simplification request",
			},
			Enrich: func(in Input, intent *ai.QueryIntent) {
				intent.TargetAge = extractAge(in.Lower)
				intent.CEFRLevel = CEFRForAge(intent.TargetAge)
				if intent.TargetAge > 0 {
					intent.Confidence = 0.95
					intent.Reasoning = fmt.Sprintf("explicit simplification request for age %d", intent.TargetAge)
				}
			},
		},
		{
			Name: "brevity_marker",
			When: func(in Input) bool { return brevityRe.MatchString(in.Lower) },
			Intent: ai.QueryIntent{
				Type:           ai.IntentDefinition,
				ExpectedLength: ai.LengthBrief,
				Complexity:     ai.ComplexityLow,
				Confidence:     0.9,
				Reasoning:      "explicit brevity marker",
			},
		},
		{
			Name: "definition",
			When: func(in Input) bool {
				return len(in.Words) <= 8 && definitionRe.MatchString(in.Lower) &&
					!comparisonRe.MatchString(in.Lower) && !analysisRe.MatchString(in.Lower)
			},
			Intent: ai.QueryIntent{
				Type:           ai.IntentDefinition,
				ExpectedLength: ai.LengthBrief,
				Complexity:     ai.ComplexityLow,
				Confidence:     0.88,
				Reasoning:      "short definitional question",
			},
		},
		{
			Name: "comparison",
			When: func(in Input) bool { return comparisonRe.MatchString(in.Lower) },
			Intent: ai.QueryIntent{
				Type:           ai.IntentComparison,
				ExpectedLength: ai.LengthDetailed,
				Complexity:     ai.ComplexityHigh,
				Confidence:     0.9,
				Reasoning:      "explicit comparison marker",
			},
		},
		{
			Name: "analysis",
			When: func(in Input) bool { return analysisRe.MatchString(in.Lower) },
			Intent: ai.QueryIntent{
				Type:           ai.IntentAnalysis,
				ExpectedLength: ai.LengthDetailed,
				Complexity:     ai.ComplexityHigh,
				Confidence:     0.88,
				Reasoning:      "explicit depth marker",
			},
		},
		{
			Name: "clarification",
			When: func(in Input) bool { return clarifyRe.MatchString(in.Lower) },
			Intent: ai.QueryIntent{
				Type:           ai.IntentClarification,
				ExpectedLength: ai.LengthModerate,
				Complexity:     ai.ComplexityMedium,
				Confidence:     0.85,
				Reasoning:      "clarification phrase",
			},
		},
		{
			Name: "follow_up_connective",
			When: func(in Input) bool { return in.HasConversation && connectiveRe.MatchString(in.Lower) },
			Intent: ai.QueryIntent{
				Type:           ai.IntentFollowUp,
				ExpectedLength: ai.LengthModerate,
				Complexity:     ai.ComplexityMedium,
				Confidence:     0.8,
				Reasoning:      "continuation connective in an ongoing conversation",
			},
		},
		{
			Name: "follow_up_short",
			When: func(in Input) bool { return in.HasConversation && len(in.Words) <= 6 },
			Intent: ai.QueryIntent{
				Type:           ai.IntentFollowUp,
				ExpectedLength: ai.LengthBrief,
				Complexity:     ai.ComplexityLow,
				Confidence:     0.75,
				Reasoning:      "short message in an ongoing conversation",
			},
		},
		{
			Name: "follow_up_interrogative",
			When: func(in Input) bool { return in.HasConversation && interrogativeRe.MatchString(in.Lower) },
			Intent: ai.QueryIntent{
				Type:           ai.IntentFollowUp,
				ExpectedLength: ai.LengthModerate,
				Complexity:     ai.ComplexityMedium,
				Confidence:     0.75,
				Reasoning:      "leading interrogative in an ongoing conversation",
			},
		},
	}
}

// Classifier evaluates an ordered rule table, first match wins, with a structural
// fallback when no rule fires. It is safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// New creates a classifier with the default rule table.
func New() *Classifier {
	return &Classifier{rules: DefaultRules()}
}

// WithRules returns a classifier whose table is extra followed by the current rules.
func (c *Classifier) WithRules(extra ...Rule) *Classifier {
	rules := make([]Rule, 0, len(extra)+len(c.rules))
	rules = append(rules, extra...)
	rules = append(rules, c.rules...)
	return &Classifier{rules: rules}
}

// Classify returns the intent of prompt. It is pure and deterministic.
func (c *Classifier) Classify(prompt string, hasConversation bool) ai.QueryIntent {
	lower := strings.ToLower(strings.TrimSpace(apostrophes.Replace(prompt)))
	in := Input{
		Prompt:          prompt,
		Lower:           lower,
		Words:           strings.Fields(lower),
		HasConversation: hasConversation,
	}

	for _, r := range c.rules {
		if r.When == nil || !r.When(in) {
			continue
		}
		intent := r.Intent
		if r.Enrich != nil {
			r.Enrich(in, &intent)
		}
		return intent
	}
	return structural(in)
}

func structural(in Input) ai.QueryIntent {
	n := len(in.Words)
	switch {
	case n == 0:
		return ai.QueryIntent{
			Type:           ai.IntentClarification,
			ExpectedLength: ai.LengthBrief,
			Complexity:     ai.ComplexityLow,
			Confidence:     0.5,
			Reasoning:      "empty prompt",
		}
	case whyHowRe.MatchString(in.Lower) && n > 25:
		return ai.QueryIntent{
			Type:           ai.IntentAnalysis,
			ExpectedLength: ai.LengthDetailed,
			Complexity:     ai.ComplexityHigh,
			Confidence:     0.7,
			Reasoning:      "long why/how question",
		}
	case whyHowRe.MatchString(in.Lower):
		return ai.QueryIntent{
			Type:           ai.IntentExplanation,
			ExpectedLength: ai.LengthModerate,
			Complexity:     ai.ComplexityMedium,
			Confidence:     0.65,
			Reasoning:      "why/how question",
		}
	case n <= 5:
		return ai.QueryIntent{
			Type:           ai.IntentDefinition,
			ExpectedLength: ai.LengthBrief,
			Complexity:     ai.ComplexityLow,
			Confidence:     0.6,
			Reasoning:      fmt.Sprintf("short prompt (%d words)", n),
		}
	case n > 25:
		return ai.QueryIntent{
			Type:           ai.IntentAnalysis,
			ExpectedLength: ai.LengthDetailed,
			Complexity:     ai.ComplexityHigh,
			Confidence:     0.6,
			Reasoning:      fmt.Sprintf("long prompt (%d words)", n),
		}
	default:
		return ai.QueryIntent{
			Type:           ai.IntentExplanation,
			ExpectedLength: ai.LengthModerate,
			Complexity:     ai.ComplexityMedium,
			Confidence:     0.5,
			Reasoning:      "no explicit marker",
		}
	}
}
