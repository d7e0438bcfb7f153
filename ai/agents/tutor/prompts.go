package tutor

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/francktshibala/bookbridge/ai/configloader"
	"github.com/francktshibala/bookbridge/ai/core/llm"
)

// PromptsFile is the optional override file in the config directory.
const PromptsFile = "tutor_prompts.yaml"

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// StagePrompt is the prompt configuration of one stage.
type StagePrompt struct {
	System    string   `yaml:"system"`
	User      string   `yaml:"user"`
	MaxTokens int      `yaml:"max_tokens"`
	Tier      llm.Tier `yaml:"tier"`
}

// PromptConfig holds every stage prompt plus the JSON reply instructions.
type PromptConfig struct {
	Envelope string                 `yaml:"envelope"`
	Stages   map[Stage]*StagePrompt `yaml:"stages"`

	templates map[Stage]*template.Template
}

// templateData is what the user templates can reference.
type templateData struct {
	Query    string
	Excerpt  string
	Mode     string
	Context  string
	Insight  string
	Socratic string
}

// DefaultPrompts returns the embedded prompt set.
func DefaultPrompts() (*PromptConfig, error) {
	var cfg PromptConfig
	if err := configloader.Decode(defaultPromptsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("decode embedded tutor prompts: %w", err)
	}
	if err := cfg.compile(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadPrompts returns the embedded prompts with tutor_prompts.yaml applied on top.
// Fields left empty in the override keep their default.
func LoadPrompts(loader *configloader.Loader) (*PromptConfig, error) {
	cfg, err := DefaultPrompts()
	if err != nil {
		return nil, err
	}

	var override PromptConfig
	found, err := loader.LoadOptional(PromptsFile, &override)
	if err != nil {
		return nil, err
	}
	if !found {
		return cfg, nil
	}

	if override.Envelope != "" {
		cfg.Envelope = override.Envelope
	}
	for stage, sp := range override.Stages {
		base, ok := cfg.Stages[stage]
		if !ok {
			return nil, fmt.Errorf("%s: unknown stage %q", PromptsFile, stage)
		}
		if sp == nil {
			continue
		}
		if sp.System != "" {
			base.System = sp.System
		}
		if sp.User != "" {
			base.User = sp.User
		}
		if sp.MaxTokens > 0 {
			base.MaxTokens = sp.MaxTokens
		}
		if sp.Tier != "" {
			base.Tier = sp.Tier
		}
	}
	if err := cfg.compile(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *PromptConfig) compile() error {
	c.templates = make(map[Stage]*template.Template, len(Pipeline))
	for _, stage := range Pipeline {
		sp, ok := c.Stages[stage]
		if !ok || sp == nil || sp.User == "" {
			return fmt.Errorf("tutor prompts: stage %q is missing", stage)
		}
		if sp.Tier != "" && !sp.Tier.Valid() {
			return fmt.Errorf("tutor prompts: stage %q has unknown tier %q", stage, sp.Tier)
		}
		tmpl, err := template.New(string(stage)).Option("missingkey=error").Parse(sp.User)
		if err != nil {
			return fmt.Errorf("tutor prompts: stage %q: %w", stage, err)
		}
		c.templates[stage] = tmpl
	}
	return nil
}

func (c *PromptConfig) render(stage Stage, data templateData) (system, user string, err error) {
	var buf bytes.Buffer
	if err := c.templates[stage].Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s prompt: %w", stage, err)
	}
	system = c.Stages[stage].System
	if c.Envelope != "" {
		system += "\n" + c.Envelope
	}
	return system, buf.String(), nil
}
