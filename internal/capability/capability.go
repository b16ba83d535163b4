// Package capability implements the advisory AI features of the booking
// app on top of the orchestrator. A reply that cannot be interpreted never
// fails the call: each capability falls back to a documented default.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/felipepmaragno/tourai/internal/domain"
	"github.com/felipepmaragno/tourai/internal/metrics"
)

const (
	NameSentiment   = "sentiment"
	NameSuggestions = "suggestions"
	NamePricing     = "pricing"
	NameContent     = "content"
	NameForecast    = "forecast"
)

// Generator is satisfied by *orchestrator.Orchestrator.
type Generator interface {
	Generate(ctx context.Context, caller domain.Caller, messages []domain.Message, opts domain.CallOptions) (*domain.Result, error)
}

type Service struct {
	gen      Generator
	logger   *slog.Logger
	validate *validator.Validate
}

func NewService(gen Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gen:      gen,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Service) generate(ctx context.Context, caller domain.Caller, system, user string, temperature float64) (*domain.Result, error) {
	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUser, Content: user},
	}
	return s.gen.Generate(ctx, caller, messages, domain.CallOptions{Temperature: &temperature})
}

func (s *Service) checkInput(input any) error {
	if err := s.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.InvalidInput("%s failed %s validation", verrs[0].Field(), verrs[0].Tag())
		}
		return domain.InvalidInput("%v", err)
	}
	return nil
}

// decode extracts a JSON document from the reply, unmarshals it into out and
// validates it. Any failure is logged once and reported as false.
func (s *Service) decode(capability string, result *domain.Result, out any) bool {
	err := s.unmarshal(result.Content, out)
	if err != nil {
		s.parseFailed(capability, result, err)
		return false
	}
	return true
}

func (s *Service) unmarshal(text string, out any) error {
	raw, ok := extractJSON(text)
	if !ok {
		return fmt.Errorf("%w: no JSON document in reply", domain.ErrParseFailure)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrParseFailure, err)
	}
	if err := s.validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrParseFailure, err)
	}
	return nil
}

func (s *Service) parseFailed(capability string, result *domain.Result, err error) {
	metrics.RecordParseFailure(capability)
	s.logger.Warn("capability reply parse failed",
		"capability", capability,
		"provider", result.Provider,
		"model", result.Model,
		"error", err,
	)
}

// extractJSON returns the first JSON object or array in text. A fenced
// block wins over bare braces.
func extractJSON(text string) ([]byte, bool) {
	text = strings.TrimSpace(text)
	if fenced, ok := fencedBlock(text); ok {
		text = fenced
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, false
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return nil, false
	}

	raw := []byte(text[start : end+1])
	if !json.Valid(raw) {
		return nil, false
	}
	return bytes.TrimSpace(raw), true
}

func fencedBlock(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return "", false
	}
	rest := text[open+3:]
	// Skip the info string, e.g. ```json.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "none given"
	}
	return strings.Join(items, ", ")
}
