// Package routing picks the model tier for a query.
package routing

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/configloader"
	"github.com/francktshibala/bookbridge/ai/core/llm"
)

// RulesFile is the routing.yaml file name in the config directory.
const RulesFile = "routing.yaml"

// ruleCostLimit bounds the evaluation cost of one override expression.
const ruleCostLimit = 10_000

// Curated "complex analysis" patterns. A brief question matching any of these still
// goes to the premium tier.
var complexPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(literary|narrative|rhetorical|poetic|stylistic) (techniques?|devices?|structure|strateg(y|ies)|choices?)\b`),
	regexp.MustCompile(`\bunreliable narrat`),
	regexp.MustCompile(`\bcompar\w*\b.*\b(across|between)\b`),
	regexp.MustCompile(`\b(cross[- ]cultural|cultural|historical|socio-?political|postcolonial) (context|perspectives?|comparison|lens|reading|significance)\b`),
	regexp.MustCompile(`\b(evaluate|assess|critique|weigh)\b.*\b(argument|claims?|thesis|reasoning|evidence)\b`),
	regexp.MustCompile(`\bhow (effective|convincing|persuasive) is\b`),
}

// IsComplex reports whether prompt matches a complex-analysis pattern.
func IsComplex(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, re := range complexPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// SelectModel returns premium for every detailed query, and for brief queries only
// when the prompt looks like complex analysis.
func SelectModel(prompt string, mode ai.ResponseMode) llm.Tier {
	if mode == ai.ModeDetailed || IsComplex(prompt) {
		return llm.TierPremium
	}
	return llm.TierEconomy
}

// Rule is one operator override. Expr is a CEL boolean expression over
// prompt (string, lower-cased), words (int) and mode (string).
type Rule struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

type rulesConfig struct {
	Rules []Rule `yaml:"rules"`
}

type compiledRule struct {
	name string
	prg  cel.Program
}

// Decision is a tier choice with the reason that produced it.
type Decision struct {
	Tier   llm.Tier
	Reason string
}

// Selector is SelectModel plus optional CEL override rules. Overrides can only upgrade
// brief traffic to premium. A nil *Selector behaves like SelectModel.
type Selector struct {
	rules []compiledRule
}

// NewSelector compiles rules. Any rule that fails to compile or is not boolean is an error.
func NewSelector(rules []Rule) (*Selector, error) {
	env, err := cel.NewEnv(
		cel.Variable("prompt", cel.StringType),
		cel.Variable("words", cel.IntType),
		cel.Variable("mode", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	s := &Selector{}
	for _, r := range rules {
		celAST, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("routing rule %q: %w", r.Name, issues.Err())
		}
		if !celAST.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("routing rule %q: expression must be boolean, got %s", r.Name, celAST.OutputType())
		}
		prg, err := env.Program(celAST, cel.CostLimit(ruleCostLimit))
		if err != nil {
			return nil, fmt.Errorf("routing rule %q: %w", r.Name, err)
		}
		s.rules = append(s.rules, compiledRule{name: r.Name, prg: prg})
	}
	return s, nil
}

// LoadSelector builds a Selector from routing.yaml, or a rule-less one when the file is absent.
func LoadSelector(loader *configloader.Loader) (*Selector, error) {
	var cfg rulesConfig
	if _, err := loader.LoadOptional(RulesFile, &cfg); err != nil {
		return nil, err
	}
	return NewSelector(cfg.Rules)
}

// Select implements the tier choice.
func (s *Selector) Select(prompt string, mode ai.ResponseMode) llm.Tier {
	return s.Decide(prompt, mode).Tier
}

// Decide is Select with the reason attached, for logging.
func (s *Selector) Decide(prompt string, mode ai.ResponseMode) Decision {
	if mode == ai.ModeDetailed {
		return Decision{Tier: llm.TierPremium, Reason: "detailed mode"}
	}
	if IsComplex(prompt) {
		return Decision{Tier: llm.TierPremium, Reason: "complex analysis pattern"}
	}
	if s != nil && len(s.rules) > 0 {
		vars := map[string]any{
			"prompt": strings.ToLower(prompt),
			"words":  int64(len(strings.Fields(prompt))),
			"mode":   string(mode),
		}
		for _, r := range s.rules {
			out, _, err := r.prg.Eval(vars)
			if err != nil {
				slog.Warn("routing: override rule failed", "rule", r.name, "error", err)
				continue
			}
			if matched, ok := out.Value().(bool); ok && matched {
				return Decision{Tier: llm.TierPremium, Reason: "override rule " + r.name}
			}
		}
	}
	return Decision{Tier: llm.TierEconomy, Reason: "brief default"}
}

// Len returns the number of override rules.
func (s *Selector) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
