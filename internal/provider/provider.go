// Package provider defines the contract every language-model integration
// implements and the registry that constructs them on demand.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/felipepmaragno/tourai/internal/domain"
)

// Name is the closed set of providers the orchestrator can dispatch to.
// Adding a provider means adding a constant here and a case in
// Registry.factory; nothing else resolves names.
type Name string

const (
	OpenAI    Name = "openai"
	Anthropic Name = "anthropic"
	Google    Name = "google"
	Bedrock   Name = "bedrock"
)

var allNames = []Name{OpenAI, Anthropic, Google, Bedrock}

// Names returns every known provider in declaration order.
func Names() []Name {
	out := make([]Name, len(allNames))
	copy(out, allNames)
	return out
}

func ParseName(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allNames {
		if n == known {
			return n, nil
		}
	}
	return "", domain.InvalidInput("unknown provider %q", s)
}

// ParseNames parses a list, preserving order and dropping duplicates.
func ParseNames(in []string) ([]Name, error) {
	seen := make(map[Name]bool, len(in))
	out := make([]Name, 0, len(in))
	for _, s := range in {
		n, err := ParseName(s)
		if err != nil {
			return nil, err
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

type Request struct {
	Model       string
	Messages    []domain.Message
	Temperature float64
	MaxTokens   int
}

// System returns the system prompt, if any, and the remaining dialogue.
func (r Request) System() (string, []domain.Message) {
	var system string
	rest := make([]domain.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role == domain.RoleSystem {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// Reply is the subset of a provider response this layer depends on.
type Reply struct {
	Text  string
	Model string
	Usage *domain.Usage
}

type Chunk struct {
	Text string
}

type Capabilities struct {
	Streaming bool
}

type Client interface {
	Name() Name
	Complete(ctx context.Context, req Request) (*Reply, error)
	// Stream delivers chunks in arrival order. Both channels are closed when
	// the upstream finishes or ctx is done; at most one error is sent.
	Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
	Capabilities() Capabilities
}

// StatusError is returned by integrations that talk HTTP directly so the
// orchestrator can tell provider-reported failures from transport ones.
type StatusError struct {
	Provider   Name
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error: status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}
