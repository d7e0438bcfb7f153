package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francktshibala/bookbridge/ai/configloader"
	"github.com/francktshibala/bookbridge/ai/core/llm"
)

func TestTable_Cost(t *testing.T) {
	table := Default()

	tests := []struct {
		name  string
		usage llm.Usage
		tier  llm.Tier
		want  float64
	}{
		{"zero", llm.Usage{}, llm.TierEconomy, 0},
		{"economy", llm.Usage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}, llm.TierEconomy, 4.80},
		{"premium", llm.Usage{PromptTokens: 1000, CompletionTokens: 500}, llm.TierPremium, 0.0105},
		{"unknown tier priced as premium", llm.Usage{PromptTokens: 1000, CompletionTokens: 500}, llm.Tier("ultra"), 0.0105},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, table.Cost(tt.usage, tt.tier), 1e-9)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pricing.yaml"), []byte("economy:\n  input: 0.25\n  output: 1.25\n"), 0o600))

	table, err := Load(configloader.NewLoader(dir))
	require.NoError(t, err)
	assert.Equal(t, Rate{Input: 0.25, Output: 1.25}, table[llm.TierEconomy])
	assert.Equal(t, Rate{Input: 3, Output: 15}, table[llm.TierPremium])

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pricing.yaml"), []byte("ultra:\n  input: 1\n  output: 1\n"), 0o600))
	_, err = Load(configloader.NewLoader(dir))
	assert.Error(t, err)
}

func TestLoad_NoFile(t *testing.T) {
	table, err := Load(configloader.NewLoader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), table)
}
