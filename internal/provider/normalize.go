package provider

import (
	"strings"

	"github.com/felipepmaragno/tourai/internal/domain"
)

// Normalize maps a provider reply to the canonical result. A reply without
// usable text is an error so the orchestrator moves to the next candidate.
func Normalize(name Name, reply *Reply) (domain.Result, error) {
	if reply == nil {
		return domain.Result{}, domain.ErrEmptyReply
	}
	content := strings.TrimSpace(reply.Text)
	if content == "" {
		return domain.Result{}, domain.ErrEmptyReply
	}

	result := domain.Result{
		Content:  content,
		Provider: string(name),
		Model:    reply.Model,
	}

	if u := reply.Usage; u != nil {
		usage := *u
		if usage.TotalTokens == 0 {
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		if usage.TotalTokens > 0 {
			total := usage.TotalTokens
			result.TokensUsed = &total
			result.Usage = &usage
		}
	}

	return result, nil
}
