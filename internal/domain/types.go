package domain

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CallOptions tunes a single Generate or Stream call. Zero values fall back
// to the process-wide defaults.
type CallOptions struct {
	Provider      string   `json:"provider,omitempty" validate:"omitempty,oneof=openai anthropic google bedrock"`
	Model         string   `json:"model,omitempty" validate:"omitempty,max=128"`
	Temperature   *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens     *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0,lte=32768"`
	FallbackOrder []string `json:"fallback_order,omitempty" validate:"omitempty,dive,oneof=openai anthropic google bedrock"`
}

// Caller identifies who is spending rate-limit quota.
type Caller struct {
	Scope string
	ID    string
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the normalized reply returned to every caller regardless of
// which provider answered.
type Result struct {
	Content    string    `json:"content"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	TokensUsed *int      `json:"tokens_used,omitempty"`
	Cost       *float64  `json:"cost_usd,omitempty"`
	Usage      *Usage    `json:"-"`
	LatencyMs  int64     `json:"latency_ms"`
	Attempts   []Attempt `json:"-"`
	Skipped    []string  `json:"-"`
}

// Attempt records one candidate tried during a fallback sequence.
type Attempt struct {
	Provider string        `json:"provider"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

func (a Attempt) Error() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Error()
}
