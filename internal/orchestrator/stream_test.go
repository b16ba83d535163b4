package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/felipepmaragno/tourai/internal/domain"
	"github.com/felipepmaragno/tourai/internal/provider"
)

func chunkStream(ctx context.Context, texts []string, err error) (<-chan provider.Chunk, <-chan error) {
	out := make(chan provider.Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, t := range texts {
			select {
			case out <- provider.Chunk{Text: t}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errs <- err
		}
	}()
	return out, errs
}

func collect(t *testing.T, s *Stream) []string {
	t.Helper()
	var got []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-s.Chunks():
			if !ok {
				return got
			}
			got = append(got, c.Text)
		case <-timeout:
			t.Fatal("stream did not finish")
			return got
		}
	}
}

func TestStream_PreservesOrder(t *testing.T) {
	client := &mockClient{
		name:      provider.OpenAI,
		streaming: true,
		StreamFunc: func(ctx context.Context, _ provider.Request) (<-chan provider.Chunk, <-chan error) {
			return chunkStream(ctx, []string{"Gondar ", "castles ", "are ", "stunning"}, nil)
		},
	}
	env := newTestEnv(t, provider.Factories{OpenAI: factoryFor(client)}, Config{})

	s, err := env.orch.Stream(context.Background(), testCaller, userMessages("describe Gondar"), domain.CallOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	got := collect(t, s)
	want := []string{"Gondar ", "castles ", "are ", "stunning"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if s.Err() != nil {
		t.Errorf("expected nil Err, got %v", s.Err())
	}
	if s.Provider != provider.OpenAI {
		t.Errorf("expected openai, got %s", s.Provider)
	}
}

func TestStream_NoChunksAfterClose(t *testing.T) {
	stopped := make(chan struct{})
	client := &mockClient{
		name:      provider.OpenAI,
		streaming: true,
		StreamFunc: func(ctx context.Context, _ provider.Request) (<-chan provider.Chunk, <-chan error) {
			out := make(chan provider.Chunk)
			errs := make(chan error, 1)
			go func() {
				defer close(stopped)
				defer close(out)
				defer close(errs)
				for i := 0; ; i++ {
					select {
					case out <- provider.Chunk{Text: strconv.Itoa(i)}:
					case <-ctx.Done():
						return
					}
				}
			}()
			return out, errs
		},
	}
	env := newTestEnv(t, provider.Factories{OpenAI: factoryFor(client)}, Config{})

	s, err := env.orch.Stream(context.Background(), testCaller, userMessages("hi"), domain.CallOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		c := <-s.Chunks()
		if c.Text != strconv.Itoa(i) {
			t.Errorf("chunk %d: got %q", i, c.Text)
		}
	}

	s.Close()

	for c := range s.Chunks() {
		t.Errorf("received chunk %q after Close", c.Text)
	}
	if s.Err() != nil {
		t.Errorf("closing is not an error, got %v", s.Err())
	}

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Error("upstream producer was not cancelled")
	}

	s.Close()
}

func TestStream_CallerContextCancel(t *testing.T) {
	client := &mockClient{
		name:      provider.OpenAI,
		streaming: true,
		StreamFunc: func(ctx context.Context, _ provider.Request) (<-chan provider.Chunk, <-chan error) {
			out := make(chan provider.Chunk)
			errs := make(chan error, 1)
			go func() {
				defer close(out)
				defer close(errs)
				select {
				case out <- provider.Chunk{Text: "first"}:
				case <-ctx.Done():
					return
				}
				<-ctx.Done()
			}()
			return out, errs
		},
	}
	env := newTestEnv(t, provider.Factories{OpenAI: factoryFor(client)}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	s, err := env.orch.Stream(ctx, testCaller, userMessages("hi"), domain.CallOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	<-s.Chunks()
	cancel()

	collect(t, s)
	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", s.Err())
	}
}

func TestStream_ProviderFailureBeforeFirstChunk(t *testing.T) {
	upstream := &provider.StatusError{Provider: provider.OpenAI, StatusCode: 503, Body: "unavailable"}
	client := &mockClient{
		name:      provider.OpenAI,
		streaming: true,
		StreamFunc: func(ctx context.Context, _ provider.Request) (<-chan provider.Chunk, <-chan error) {
			return chunkStream(ctx, nil, upstream)
		},
	}
	fallback := &mockClient{name: provider.Anthropic, streaming: true}
	env := newTestEnv(t, provider.Factories{
		OpenAI:    factoryFor(client),
		Anthropic: factoryFor(fallback),
	}, Config{})

	s, err := env.orch.Stream(context.Background(), testCaller, userMessages("hi"), domain.CallOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	if got := collect(t, s); len(got) != 0 {
		t.Errorf("expected no chunks, got %v", got)
	}

	var perr *domain.ProviderError
	if !errors.As(s.Err(), &perr) || perr.Provider != "openai" || perr.Class != domain.ClassProviderError {
		t.Fatalf("expected openai ProviderError, got %v", s.Err())
	}
	var statusErr *provider.StatusError
	if !errors.As(s.Err(), &statusErr) || statusErr.StatusCode != 503 {
		t.Errorf("expected the upstream status error in chain, got %v", s.Err())
	}
	if fallback.calls.Load() != 0 {
		t.Error("streams do not fall back")
	}
}

func TestStream_FirstChunkTimeout(t *testing.T) {
	client := &mockClient{
		name:      provider.OpenAI,
		streaming: true,
		StreamFunc: func(ctx context.Context, _ provider.Request) (<-chan provider.Chunk, <-chan error) {
			out := make(chan provider.Chunk)
			errs := make(chan error, 1)
			go func() {
				defer close(out)
				defer close(errs)
				<-ctx.Done()
			}()
			return out, errs
		},
	}
	env := newTestEnv(t, provider.Factories{OpenAI: factoryFor(client)}, Config{ProviderTimeout: 30 * time.Millisecond})

	s, err := env.orch.Stream(context.Background(), testCaller, userMessages("hi"), domain.CallOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	collect(t, s)
	var perr *domain.ProviderError
	if !errors.As(s.Err(), &perr) || perr.Class != domain.ClassTimeout {
		t.Errorf("expected timeout ProviderError, got %v", s.Err())
	}
}

func TestStream_SkipsNonStreamingAndUnconfigured(t *testing.T) {
	nonStreaming := &mockClient{name: provider.Anthropic}
	streaming := &mockClient{name: provider.Google, streaming: true}
	env := newTestEnv(t, provider.Factories{
		Anthropic: factoryFor(nonStreaming),
		Google:    factoryFor(streaming),
	}, Config{})

	s, err := env.orch.Stream(context.Background(), testCaller, userMessages("hi"), domain.CallOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer s.Close()

	if s.Provider != provider.Google {
		t.Errorf("expected google, got %s", s.Provider)
	}
	collect(t, s)
	if nonStreaming.calls.Load() != 0 {
		t.Error("non-streaming client should not be called")
	}
}

func TestStream_NoStreamingCandidate(t *testing.T) {
	env := newTestEnv(t, provider.Factories{
		Anthropic: factoryFor(&mockClient{name: provider.Anthropic}),
	}, Config{})

	_, err := env.orch.Stream(context.Background(), testCaller, userMessages("hi"), domain.CallOptions{})

	var unavailable *domain.AllProvidersUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected AllProvidersUnavailableError, got %v", err)
	}
	if len(unavailable.Attempts) != 0 {
		t.Errorf("expected no attempts, got %+v", unavailable.Attempts)
	}
	want := []string{"openai", "anthropic", "google"}
	if len(unavailable.Skipped) != len(want) {
		t.Fatalf("expected skipped %v, got %v", want, unavailable.Skipped)
	}
	for i := range want {
		if unavailable.Skipped[i] != want[i] {
			t.Errorf("skipped %d: expected %s, got %s", i, want[i], unavailable.Skipped[i])
		}
	}
}

func TestStream_ValidatesAndAdmits(t *testing.T) {
	env := newTestEnv(t, provider.Factories{
		OpenAI: factoryFor(&mockClient{name: provider.OpenAI, streaming: true}),
	}, Config{})

	_, err := env.orch.Stream(context.Background(), testCaller, nil, domain.CallOptions{})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if env.limiter.calls.Load() != 0 {
		t.Error("invalid input must not consume an admission")
	}

	s, err := env.orch.Stream(context.Background(), testCaller, userMessages("hi"), domain.CallOptions{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	collect(t, s)
	s.Close()
	if env.limiter.calls.Load() != 1 {
		t.Errorf("expected 1 admission, got %d", env.limiter.calls.Load())
	}
}
