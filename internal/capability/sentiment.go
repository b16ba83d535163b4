package capability

import (
	"context"
	"fmt"

	"github.com/felipepmaragno/tourai/internal/domain"
)

const sentimentPrompt = `You analyze guest reviews for a tourism booking platform.
Reply with a single JSON object and nothing else:
{"sentiment": "positive" | "negative" | "neutral", "score": number from -1 to 1, "confidence": number from 0 to 1, "keywords": [up to 5 short phrases]}`

type SentimentRequest struct {
	Text     string `json:"text" validate:"required,max=8000"`
	Language string `json:"language,omitempty" validate:"omitempty,max=32"`
}

type Sentiment struct {
	Sentiment  string   `json:"sentiment" validate:"oneof=positive negative neutral"`
	Score      float64  `json:"score" validate:"gte=-1,lte=1"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
	Keywords   []string `json:"keywords"`
}

// NeutralSentiment is returned when the reply cannot be interpreted.
func NeutralSentiment() Sentiment {
	return Sentiment{Sentiment: "neutral", Score: 0, Confidence: 0, Keywords: []string{}}
}

func (s *Service) AnalyzeSentiment(ctx context.Context, caller domain.Caller, req SentimentRequest) (Sentiment, error) {
	if err := s.checkInput(req); err != nil {
		return Sentiment{}, err
	}

	user := fmt.Sprintf("Review:\n%s", req.Text)
	if req.Language != "" {
		user = fmt.Sprintf("Review language: %s\n%s", req.Language, user)
	}

	result, err := s.generate(ctx, caller, sentimentPrompt, user, 0.1)
	if err != nil {
		return Sentiment{}, err
	}

	var out Sentiment
	if !s.decode(NameSentiment, result, &out) {
		return NeutralSentiment(), nil
	}
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	return out, nil
}
