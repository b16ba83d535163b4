package capability

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/felipepmaragno/tourai/internal/domain"
)

const forecastPrompt = `You forecast daily booking demand for tourism listings.
Use the daily history provided, oldest first, and account for weekly patterns.
Reply with a single JSON object and nothing else:
{"values": [one non-negative number per forecast day], "trend": "up" | "down" | "flat", "confidence": number from 0 to 1}`

const defaultHorizon = 7

type ForecastRequest struct {
	ListingID string    `json:"listing_id" validate:"required,max=100"`
	History   []float64 `json:"history" validate:"required,min=1,max=366,dive,gte=0"`
	Horizon   int       `json:"horizon,omitempty" validate:"gte=0,lte=90"`
}

type Forecast struct {
	Values     []float64 `json:"values" validate:"required,min=1,dive,gte=0"`
	Trend      string    `json:"trend" validate:"oneof=up down flat"`
	Confidence float64   `json:"confidence" validate:"gte=0,lte=1"`
}

// FlatForecast repeats the mean of history for every day of the horizon.
func FlatForecast(history []float64, horizon int) Forecast {
	var sum float64
	for _, v := range history {
		sum += v
	}
	mean := 0.0
	if len(history) > 0 {
		mean = sum / float64(len(history))
	}
	values := make([]float64, horizon)
	for i := range values {
		values[i] = mean
	}
	return Forecast{Values: values, Trend: "flat", Confidence: 0}
}

func (s *Service) ForecastDemand(ctx context.Context, caller domain.Caller, req ForecastRequest) (Forecast, error) {
	if err := s.checkInput(req); err != nil {
		return Forecast{}, err
	}
	horizon := req.Horizon
	if horizon == 0 {
		horizon = defaultHorizon
	}

	history := make([]string, len(req.History))
	for i, v := range req.History {
		history[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	user := fmt.Sprintf("Listing: %s\nDaily bookings: %s\nForecast the next %d days.",
		req.ListingID, strings.Join(history, ", "), horizon)

	result, err := s.generate(ctx, caller, forecastPrompt, user, 0.2)
	if err != nil {
		return Forecast{}, err
	}

	var out Forecast
	if !s.decode(NameForecast, result, &out) {
		return FlatForecast(req.History, horizon), nil
	}
	if len(out.Values) != horizon {
		s.parseFailed(NameForecast, result, fmt.Errorf("%w: got %d values, want %d", domain.ErrParseFailure, len(out.Values), horizon))
		return FlatForecast(req.History, horizon), nil
	}
	return out, nil
}
