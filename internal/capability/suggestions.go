package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/felipepmaragno/tourai/internal/domain"
)

const suggestionsPrompt = `You are a travel planner for a tourism booking platform.
Suggest experiences that fit the traveller's destination, interests and budget.
Reply with a single JSON object and nothing else:
{"suggestions": [{"title": string, "description": string, "category": string, "estimated_cost_usd": number}]}`

const defaultSuggestionLimit = 5

type SuggestionRequest struct {
	Destination string   `json:"destination" validate:"required,max=200"`
	Interests   []string `json:"interests,omitempty" validate:"max=20,dive,max=100"`
	BudgetUSD   float64  `json:"budget_usd,omitempty" validate:"gte=0"`
	Days        int      `json:"days,omitempty" validate:"gte=0,lte=60"`
	Limit       int      `json:"limit,omitempty" validate:"gte=0,lte=20"`
}

type Suggestion struct {
	Title            string  `json:"title" validate:"required"`
	Description      string  `json:"description"`
	Category         string  `json:"category"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd" validate:"gte=0"`
}

type suggestionReply struct {
	Suggestions []Suggestion `json:"suggestions" validate:"dive"`
}

// UnmarshalJSON also accepts a bare array, which some models return despite
// the prompt.
func (r *suggestionReply) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &r.Suggestions)
	}
	type plain suggestionReply
	return json.Unmarshal(data, (*plain)(r))
}

// Suggestions returns up to req.Limit experiences. The default on an
// unreadable reply is an empty list.
func (s *Service) Suggestions(ctx context.Context, caller domain.Caller, req SuggestionRequest) ([]Suggestion, error) {
	if err := s.checkInput(req); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultSuggestionLimit
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Destination: %s\n", req.Destination)
	fmt.Fprintf(&b, "Interests: %s\n", formatList(req.Interests))
	if req.BudgetUSD > 0 {
		fmt.Fprintf(&b, "Budget: %.2f USD\n", req.BudgetUSD)
	}
	if req.Days > 0 {
		fmt.Fprintf(&b, "Trip length: %d days\n", req.Days)
	}
	fmt.Fprintf(&b, "Return at most %d suggestions.", limit)

	result, err := s.generate(ctx, caller, suggestionsPrompt, b.String(), 0.7)
	if err != nil {
		return nil, err
	}

	var reply suggestionReply
	if !s.decode(NameSuggestions, result, &reply) || reply.Suggestions == nil {
		return []Suggestion{}, nil
	}
	if len(reply.Suggestions) > limit {
		reply.Suggestions = reply.Suggestions[:limit]
	}
	return reply.Suggestions, nil
}
