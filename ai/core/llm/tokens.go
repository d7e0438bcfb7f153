package llm

import "unicode/utf8"

// charsPerToken is the usual English-text ratio for BPE tokenizers.
const charsPerToken = 4

// EstimateTokens approximates the token count of s.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateRequestTokens approximates the prompt tokens of req.
func EstimateRequestTokens(req *Request) int {
	total := EstimateTokens(req.System)
	for _, m := range req.Messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// fillUsage completes missing usage figures with local estimates.
func fillUsage(u Usage, req *Request, content string) Usage {
	if u.PromptTokens == 0 {
		u.PromptTokens = EstimateRequestTokens(req)
		u.Estimated = true
	}
	if u.CompletionTokens == 0 && content != "" {
		u.CompletionTokens = EstimateTokens(content)
		u.Estimated = true
	}
	if u.TotalTokens < u.PromptTokens+u.CompletionTokens {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}
