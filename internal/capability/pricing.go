package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/felipepmaragno/tourai/internal/domain"
)

const pricingPrompt = `You are a revenue manager for tours and accommodation listings.
Recommend a nightly or per-person price from the listing data provided.
Reply with a single JSON object and nothing else:
{"recommended_price": number, "confidence": number from 0 to 1, "reasoning": string}`

type PricingRequest struct {
	ListingTitle     string    `json:"listing_title" validate:"required,max=200"`
	Location         string    `json:"location" validate:"required,max=200"`
	CurrentPrice     float64   `json:"current_price" validate:"gt=0"`
	Currency         string    `json:"currency,omitempty" validate:"omitempty,len=3"`
	OccupancyRate    float64   `json:"occupancy_rate,omitempty" validate:"gte=0,lte=1"`
	CompetitorPrices []float64 `json:"competitor_prices,omitempty" validate:"max=50,dive,gt=0"`
	Season           string    `json:"season,omitempty" validate:"max=50"`
}

type PricingAdvice struct {
	RecommendedPrice float64 `json:"recommended_price" validate:"gt=0"`
	Confidence       float64 `json:"confidence" validate:"gte=0,lte=1"`
	Reasoning        string  `json:"reasoning"`
}

// HoldPrice is the advice returned when the reply cannot be interpreted.
func HoldPrice(current float64) PricingAdvice {
	return PricingAdvice{RecommendedPrice: current, Confidence: 0, Reasoning: "insufficient data"}
}

func (s *Service) PricingAdvice(ctx context.Context, caller domain.Caller, req PricingRequest) (PricingAdvice, error) {
	if err := s.checkInput(req); err != nil {
		return PricingAdvice{}, err
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Listing: %s\n", req.ListingTitle)
	fmt.Fprintf(&b, "Location: %s\n", req.Location)
	fmt.Fprintf(&b, "Current price: %.2f %s\n", req.CurrentPrice, currency)
	if req.OccupancyRate > 0 {
		fmt.Fprintf(&b, "Occupancy over the last 30 days: %.0f%%\n", req.OccupancyRate*100)
	}
	if len(req.CompetitorPrices) > 0 {
		prices := make([]string, len(req.CompetitorPrices))
		for i, p := range req.CompetitorPrices {
			prices[i] = fmt.Sprintf("%.2f", p)
		}
		fmt.Fprintf(&b, "Comparable listings: %s\n", strings.Join(prices, ", "))
	}
	if req.Season != "" {
		fmt.Fprintf(&b, "Season: %s\n", req.Season)
	}
	fmt.Fprintf(&b, "Answer in %s.", currency)

	result, err := s.generate(ctx, caller, pricingPrompt, b.String(), 0.2)
	if err != nil {
		return PricingAdvice{}, err
	}

	var out PricingAdvice
	if !s.decode(NamePricing, result, &out) {
		return HoldPrice(req.CurrentPrice), nil
	}
	return out, nil
}
