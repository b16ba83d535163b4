package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felipepmaragno/tourai/internal/domain"
	"github.com/felipepmaragno/tourai/internal/metrics"
	"github.com/felipepmaragno/tourai/internal/provider"
)

// Stream is an open streaming reply from a single provider. Chunks arrive in
// upstream order; once Close returns no further chunk is delivered.
type Stream struct {
	Provider provider.Name

	chunks chan provider.Chunk
	cancel context.CancelFunc
	done   chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (s *Stream) Chunks() <-chan provider.Chunk { return s.chunks }

// Err reports why the stream ended. It is nil for a stream that completed
// normally or was closed by the consumer, the context error if the caller's
// context ended it, and a *domain.ProviderError otherwise. It is only
// meaningful after Chunks is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the upstream request and waits for the producer to exit.
// It is safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
	<-s.done
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Stream validates and admits the call like Generate, then opens a stream on
// the first configured candidate that supports streaming. There is no
// fallback once the stream is open.
func (o *Orchestrator) Stream(ctx context.Context, caller domain.Caller, messages []domain.Message, opts domain.CallOptions) (*Stream, error) {
	start := o.now()
	caller = normalizeCaller(caller)

	if err := o.validateInput(messages, opts); err != nil {
		return nil, err
	}
	candidates, err := o.candidates(opts)
	if err != nil {
		return nil, err
	}
	if err := o.admit(ctx, caller, start); err != nil {
		return nil, err
	}

	var (
		client   provider.Client
		attempts []domain.Attempt
		skipped  []string
	)
	for _, name := range candidates {
		c, err := o.registry.Get(ctx, name)
		if err != nil {
			if errors.Is(err, domain.ErrNotConfigured) {
				o.logger.Debug("provider not configured, skipping", "provider", name, "scope", caller.Scope)
				skipped = append(skipped, string(name))
				continue
			}
			o.logger.Warn("provider construction failed", "provider", name, "scope", caller.Scope, "error", err)
			attempts = append(attempts, domain.Attempt{
				Provider: string(name),
				Err:      &domain.ProviderError{Provider: string(name), Class: domain.ClassProviderError, Err: err},
			})
			continue
		}
		if !c.Capabilities().Streaming {
			o.logger.Debug("provider does not stream, skipping", "provider", name, "scope", caller.Scope)
			skipped = append(skipped, string(name))
			continue
		}
		client = c
		break
	}
	if client == nil {
		err := &domain.AllProvidersUnavailableError{Attempts: attempts, Skipped: skipped}
		metrics.RecordExhausted(caller.Scope)
		o.logger.Error("no streaming provider available",
			"providers", err.Providers(),
			"skipped", skipped,
			"scope", caller.Scope,
			"latency_ms", o.now().Sub(start).Milliseconds(),
		)
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	up, upErrs := client.Stream(sctx, o.buildRequest(messages, opts))
	s := &Stream{
		Provider: client.Name(),
		chunks:   make(chan provider.Chunk),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	metrics.IncrementActiveStreams()
	o.logger.Info("stream opened", "provider", s.Provider, "scope", caller.Scope, "caller_id", caller.ID)
	go o.pump(sctx, caller, s, up, upErrs)
	return s, nil
}

// pump forwards upstream chunks until the upstream ends or sctx is done.
// The first chunk must arrive within ProviderTimeout.
func (o *Orchestrator) pump(sctx context.Context, caller domain.Caller, s *Stream, up <-chan provider.Chunk, upErrs <-chan error) {
	start := o.now()
	delivered := 0
	status := "success"

	defer func() {
		s.cancel()
		close(s.chunks)
		close(s.done)
		metrics.DecrementActiveStreams()
		metrics.RecordCall(caller.Scope, string(s.Provider), status, o.now().Sub(start).Seconds())
		o.logger.Info("stream closed",
			"provider", s.Provider,
			"scope", caller.Scope,
			"chunks", delivered,
			"status", status,
			"latency_ms", o.now().Sub(start).Milliseconds(),
		)
	}()

	firstChunk := time.NewTimer(o.cfg.ProviderTimeout)
	defer firstChunk.Stop()
	firstDeadline := firstChunk.C

	fail := func(class domain.ErrorClass, err error) {
		status = "error"
		metrics.RecordProviderError(string(s.Provider), string(class))
		o.logger.Warn("stream failed",
			"provider", s.Provider,
			"error_class", class,
			"error", err,
			"scope", caller.Scope,
		)
		s.setErr(&domain.ProviderError{Provider: string(s.Provider), Class: class, Err: err})
	}

	for {
		select {
		case <-sctx.Done():
			status = s.canceled(sctx)
			return
		case <-firstDeadline:
			fail(domain.ClassTimeout, context.DeadlineExceeded)
			return
		case chunk, ok := <-up:
			if !ok {
				var err error
				select {
				case err = <-upErrs:
				case <-sctx.Done():
				}
				if sctx.Err() != nil {
					status = s.canceled(sctx)
				} else if err != nil {
					fail(classify(s.Provider, err).Class, err)
				}
				return
			}
			if sctx.Err() != nil {
				status = s.canceled(sctx)
				return
			}
			firstDeadline = nil
			select {
			case s.chunks <- chunk:
				delivered++
			case <-sctx.Done():
				status = s.canceled(sctx)
				return
			}
		}
	}
}

// canceled records the caller's context error unless the consumer closed
// the stream itself.
func (s *Stream) canceled(ctx context.Context) string {
	if !s.closed.Load() {
		s.setErr(ctx.Err())
	}
	return "canceled"
}
