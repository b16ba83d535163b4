package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/felipepmaragno/tourai/internal/domain"
)

const contentPrompt = `You write marketing copy for a tourism booking platform.
Be accurate to the details given and never invent prices, dates or amenities.
Reply with a single JSON object and nothing else:
{"title": string, "body": string, "highlights": [up to 5 short strings]}`

type ContentKind string

const (
	ContentDescription ContentKind = "description"
	ContentItinerary   ContentKind = "itinerary"
	ContentSocialPost  ContentKind = "social_post"
)

type ContentRequest struct {
	Kind     ContentKind `json:"kind" validate:"required,oneof=description itinerary social_post"`
	Title    string      `json:"title" validate:"required,max=200"`
	Details  string      `json:"details" validate:"required,max=8000"`
	Tone     string      `json:"tone,omitempty" validate:"max=50"`
	Language string      `json:"language,omitempty" validate:"max=32"`
	MaxWords int         `json:"max_words,omitempty" validate:"gte=0,lte=2000"`
}

type Content struct {
	Title      string   `json:"title"`
	Body       string   `json:"body" validate:"required"`
	Highlights []string `json:"highlights"`
}

// GenerateContent writes copy for a listing. When the reply is not the
// expected JSON the raw reply text becomes the body under the requested
// title.
func (s *Service) GenerateContent(ctx context.Context, caller domain.Caller, req ContentRequest) (Content, error) {
	if err := s.checkInput(req); err != nil {
		return Content{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s.\n", strings.ReplaceAll(string(req.Kind), "_", " "))
	fmt.Fprintf(&b, "Title: %s\n", req.Title)
	fmt.Fprintf(&b, "Details:\n%s\n", req.Details)
	if req.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", req.Tone)
	}
	if req.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", req.Language)
	}
	if req.MaxWords > 0 {
		fmt.Fprintf(&b, "Keep the body under %d words.\n", req.MaxWords)
	}

	result, err := s.generate(ctx, caller, contentPrompt, b.String(), 0.8)
	if err != nil {
		return Content{}, err
	}

	var out Content
	if !s.decode(NameContent, result, &out) {
		return Content{Title: req.Title, Body: result.Content, Highlights: []string{}}, nil
	}
	if out.Title == "" {
		out.Title = req.Title
	}
	if out.Highlights == nil {
		out.Highlights = []string{}
	}
	return out, nil
}
