// Package orchestrator turns a caller's chat request into a single
// normalized result by trying configured providers in order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/felipepmaragno/tourai/internal/cost"
	"github.com/felipepmaragno/tourai/internal/domain"
	"github.com/felipepmaragno/tourai/internal/metrics"
	"github.com/felipepmaragno/tourai/internal/moderation"
	"github.com/felipepmaragno/tourai/internal/notifications"
	"github.com/felipepmaragno/tourai/internal/provider"
	"github.com/felipepmaragno/tourai/internal/ratelimit"
	"github.com/felipepmaragno/tourai/internal/telemetry"
)

const (
	DefaultScope    = "default"
	AnonymousCaller = "anonymous"

	notifyTimeout = 5 * time.Second
)

// Registry is the part of provider.Registry the orchestrator needs.
type Registry interface {
	Get(ctx context.Context, name provider.Name) (provider.Client, error)
}

type Config struct {
	DefaultOrder       []provider.Name
	DefaultTemperature float64
	DefaultMaxTokens   int
	// ProviderTimeout bounds each candidate independently; a slow first
	// candidate does not shorten the budget of the next one.
	ProviderTimeout time.Duration
}

// Deps groups the collaborators built by the composition root. Tracker,
// Notifier, Screen and Logger are optional.
type Deps struct {
	Registry   Registry
	Limiter    ratelimit.Limiter
	Calculator *cost.Calculator
	Tracker    cost.Tracker
	Notifier   notifications.Notifier
	Screen     *moderation.Screen
	Logger     *slog.Logger
}

type Orchestrator struct {
	registry   Registry
	limiter    ratelimit.Limiter
	calculator *cost.Calculator
	tracker    cost.Tracker
	notifier   notifications.Notifier
	screen     *moderation.Screen
	logger     *slog.Logger
	validate   *validator.Validate
	cfg        Config
	now        func() time.Time
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Registry == nil {
		return nil, errors.New("orchestrator: registry is required")
	}
	if deps.Limiter == nil {
		return nil, errors.New("orchestrator: limiter is required")
	}
	if len(cfg.DefaultOrder) == 0 {
		return nil, errors.New("orchestrator: default order must not be empty")
	}
	if cfg.ProviderTimeout <= 0 {
		return nil, errors.New("orchestrator: provider timeout must be positive")
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 1024
	}

	calc := deps.Calculator
	if calc == nil {
		calc = cost.NewCalculator()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		registry:   deps.Registry,
		limiter:    deps.Limiter,
		calculator: calc,
		tracker:    deps.Tracker,
		notifier:   deps.Notifier,
		screen:     deps.Screen,
		logger:     logger,
		validate:   newValidator(),
		cfg:        cfg,
		now:        time.Now,
	}, nil
}

func normalizeCaller(c domain.Caller) domain.Caller {
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.ID == "" {
		c.ID = AnonymousCaller
	}
	return c
}

// Generate validates the request, consumes one rate-limit admission and
// tries each candidate in order until one produces a non-empty reply.
// Only InvalidInputError, RateLimitedError, AllProvidersUnavailableError or
// the caller's own context error are returned.
func (o *Orchestrator) Generate(ctx context.Context, caller domain.Caller, messages []domain.Message, opts domain.CallOptions) (*domain.Result, error) {
	start := o.now()
	caller = normalizeCaller(caller)

	ctx, span := telemetry.StartSpan(ctx, "orchestrator.Generate")
	defer span.End()

	if err := o.validateInput(messages, opts); err != nil {
		telemetry.AddErrorAttribute(span, err)
		metrics.RecordCall(caller.Scope, "", "invalid_input", o.now().Sub(start).Seconds())
		return nil, err
	}
	candidates, err := o.candidates(opts)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		metrics.RecordCall(caller.Scope, "", "invalid_input", o.now().Sub(start).Seconds())
		return nil, err
	}
	telemetry.AddCallAttributes(span, caller.Scope, namesToStrings(candidates))

	if err := o.admit(ctx, caller, start); err != nil {
		telemetry.AddErrorAttribute(span, err)
		metrics.RecordCall(caller.Scope, "", "rate_limited", o.now().Sub(start).Seconds())
		return nil, err
	}

	req := o.buildRequest(messages, opts)
	var (
		attempts []domain.Attempt
		skipped  []string
	)

	for _, name := range candidates {
		client, err := o.registry.Get(ctx, name)
		if err != nil {
			if errors.Is(err, domain.ErrNotConfigured) {
				o.logger.Debug("provider not configured, skipping",
					"provider", name,
					"scope", caller.Scope,
				)
				metrics.RecordAttempt(string(name), "skipped")
				skipped = append(skipped, string(name))
				continue
			}
			// Construction failures count as a failed attempt, not a skip.
			perr := &domain.ProviderError{Provider: string(name), Class: domain.ClassProviderError, Err: err}
			attempts = append(attempts, domain.Attempt{Provider: string(name), Err: perr})
			o.recordFailure(caller, perr, 0)
			continue
		}

		attemptStart := o.now()
		result, err := o.attempt(ctx, client, req)
		elapsed := o.now().Sub(attemptStart)
		if err == nil {
			metrics.RecordAttempt(string(name), "success")
			result.Attempts = attempts
			result.Skipped = skipped
			result.LatencyMs = o.now().Sub(start).Milliseconds()
			o.finish(ctx, span, caller, result)
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			telemetry.AddErrorAttribute(span, ctxErr)
			metrics.RecordCall(caller.Scope, string(name), "canceled", o.now().Sub(start).Seconds())
			return nil, ctxErr
		}

		perr := classify(name, err)
		attempts = append(attempts, domain.Attempt{Provider: string(name), Err: perr, Duration: elapsed})
		o.recordFailure(caller, perr, elapsed)
	}

	return nil, o.exhausted(ctx, span, caller, attempts, skipped, start)
}

func (o *Orchestrator) admit(ctx context.Context, caller domain.Caller, start time.Time) error {
	decision, err := o.limiter.Admit(ctx, caller.Scope, caller.ID)
	if err != nil {
		// Limiter backend failures fail open.
		o.logger.Error("rate limiter unavailable, admitting request",
			"scope", caller.Scope,
			"error", err,
		)
		return nil
	}
	if decision.Allowed {
		return nil
	}

	metrics.RecordRateLimitRejection(caller.Scope)
	rlErr := &domain.RateLimitedError{Scope: caller.Scope, RetryAfter: decision.RetryAfter}
	o.logger.Warn("rate limit exceeded",
		"scope", caller.Scope,
		"caller_id", caller.ID,
		"retry_after_s", rlErr.RetryAfterSeconds(),
		"latency_ms", o.now().Sub(start).Milliseconds(),
	)
	return rlErr
}

// attempt runs one candidate under its own deadline. A client that ignores
// cancellation is abandoned when the deadline passes and its result dropped.
func (o *Orchestrator) attempt(ctx context.Context, client provider.Client, req provider.Request) (*domain.Result, error) {
	name := client.Name()
	actx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	defer cancel()

	actx, span := telemetry.StartSpan(actx, "provider."+string(name),
		trace.WithAttributes(attribute.String("ai.provider", string(name))),
	)
	defer span.End()

	type outcome struct {
		reply *provider.Reply
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		reply, err := client.Complete(actx, req)
		done <- outcome{reply: reply, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-actx.Done():
		out.err = actx.Err()
	}
	if out.err != nil {
		if actx.Err() != nil && ctx.Err() == nil && !errors.Is(out.err, context.DeadlineExceeded) {
			out.err = fmt.Errorf("%w: %w", context.DeadlineExceeded, out.err)
		}
		telemetry.AddErrorAttribute(span, out.err)
		return nil, out.err
	}

	result, err := provider.Normalize(name, out.reply)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}
	return &result, nil
}

func classify(name provider.Name, err error) *domain.ProviderError {
	class := domain.ClassProviderError
	var (
		statusErr *provider.StatusError
		netErr    net.Error
		urlErr    *url.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		class = domain.ClassTimeout
	case errors.Is(err, context.Canceled):
		class = domain.ClassCanceled
	case errors.Is(err, domain.ErrEmptyReply):
		class = domain.ClassEmptyReply
	case errors.As(err, &statusErr):
		class = domain.ClassProviderError
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		class = domain.ClassTransport
	}
	return &domain.ProviderError{Provider: string(name), Class: class, Err: err}
}

func (o *Orchestrator) recordFailure(caller domain.Caller, perr *domain.ProviderError, elapsed time.Duration) {
	metrics.RecordAttempt(perr.Provider, "failure")
	metrics.RecordProviderError(perr.Provider, string(perr.Class))
	o.logger.Warn("provider failed, trying fallback",
		"provider", perr.Provider,
		"error_class", perr.Class,
		"error", perr.Err,
		"scope", caller.Scope,
		"latency_ms", elapsed.Milliseconds(),
	)
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, caller domain.Caller, result *domain.Result) {
	if result.Usage != nil {
		result.Cost = o.calculator.Estimate(result.Provider, result.Model, result.Usage)
		metrics.RecordTokens(result.Provider, result.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
		telemetry.AddTokenAttributes(span, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	}
	if result.Cost != nil {
		metrics.RecordCost(result.Provider, result.Model, *result.Cost)
		telemetry.AddCostAttribute(span, *result.Cost)
	}
	telemetry.AddResultAttributes(span, result.Provider, result.Model, len(result.Attempts)+1)
	metrics.RecordCall(caller.Scope, result.Provider, "success", float64(result.LatencyMs)/1000)

	if o.tracker != nil {
		record := cost.UsageRecord{
			ID:        uuid.New().String(),
			Scope:     caller.Scope,
			CallerID:  caller.ID,
			Provider:  result.Provider,
			Model:     result.Model,
			LatencyMs: result.LatencyMs,
			Timestamp: o.now(),
		}
		if result.Usage != nil {
			record.PromptTokens = result.Usage.PromptTokens
			record.CompletionTokens = result.Usage.CompletionTokens
		}
		if result.Cost != nil {
			record.CostUSD = *result.Cost
		}
		if err := o.tracker.Record(ctx, record); err != nil {
			o.logger.Warn("failed to record usage", "provider", result.Provider, "error", err)
		}
	}

	o.logger.Info("provider selected",
		"provider", result.Provider,
		"model", result.Model,
		"scope", caller.Scope,
		"caller_id", caller.ID,
		"failed_attempts", len(result.Attempts),
		"latency_ms", result.LatencyMs,
	)
}

func (o *Orchestrator) exhausted(ctx context.Context, span trace.Span, caller domain.Caller, attempts []domain.Attempt, skipped []string, start time.Time) error {
	err := &domain.AllProvidersUnavailableError{Attempts: attempts, Skipped: skipped}
	latency := o.now().Sub(start)

	telemetry.AddErrorAttribute(span, err)
	metrics.RecordExhausted(caller.Scope)
	metrics.RecordCall(caller.Scope, "", "exhausted", latency.Seconds())
	o.logger.Error("all providers unavailable",
		"providers", err.Providers(),
		"skipped", skipped,
		"scope", caller.Scope,
		"latency_ms", latency.Milliseconds(),
	)

	if o.notifier != nil {
		summaries := make([]notifications.AttemptSummary, len(attempts))
		for i, a := range attempts {
			summaries[i] = notifications.AttemptSummary{Provider: a.Provider, Error: a.Error()}
		}
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if nerr := o.notifier.Send(nctx, notifications.Notification{
			Type:       notifications.NotificationProviderOutage,
			Scope:      caller.Scope,
			Message:    err.Error(),
			Attempts:   summaries,
			OccurredAt: o.now(),
		}); nerr != nil {
			o.logger.Warn("failed to send outage notification", "error", nerr)
		}
	}
	return err
}

func namesToStrings(names []provider.Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
