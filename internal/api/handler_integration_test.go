//go:build integration

package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/felipepmaragno/tourai/internal/api"
	"github.com/felipepmaragno/tourai/internal/capability"
	"github.com/felipepmaragno/tourai/internal/cost"
	"github.com/felipepmaragno/tourai/internal/domain"
	"github.com/felipepmaragno/tourai/internal/notifications"
	"github.com/felipepmaragno/tourai/internal/orchestrator"
	"github.com/felipepmaragno/tourai/internal/provider"
	"github.com/felipepmaragno/tourai/internal/queue"
	"github.com/felipepmaragno/tourai/internal/ratelimit"
)

type scriptedClient struct {
	name  provider.Name
	reply string
	fail  bool
}

func (c *scriptedClient) Name() provider.Name { return c.name }

func (c *scriptedClient) Complete(ctx context.Context, req provider.Request) (*provider.Reply, error) {
	if c.fail {
		return nil, &provider.StatusError{Provider: c.name, StatusCode: 529, Body: "overloaded"}
	}
	return &provider.Reply{
		Text:  c.reply,
		Model: "test-model",
		Usage: &domain.Usage{PromptTokens: 12, CompletionTokens: 8},
	}, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
	chunks := make(chan provider.Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, word := range strings.Fields(c.reply) {
			select {
			case chunks <- provider.Chunk{Text: word + " "}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, errs
}

func (c *scriptedClient) Capabilities() provider.Capabilities {
	return provider.Capabilities{Streaming: true}
}

type stack struct {
	server   *httptest.Server
	admin    *httptest.Server
	tracker  *cost.InMemoryTracker
	notifier *notifications.InMemoryNotifier
	jobs     *queue.InMemoryQueue
}

func setupServer(t *testing.T, limiter ratelimit.Limiter, factories provider.Factories) *stack {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := provider.NewRegistry(factories, logger)
	tracker := cost.NewInMemoryTracker()
	notifier := notifications.NewInMemoryNotifier()
	calc := cost.NewCalculator()

	orch, err := orchestrator.New(orchestrator.Deps{
		Registry:   registry,
		Limiter:    limiter,
		Calculator: calc,
		Tracker:    tracker,
		Notifier:   notifier,
		Logger:     logger,
	}, orchestrator.Config{
		DefaultOrder:       []provider.Name{provider.Anthropic, provider.OpenAI},
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   512,
		ProviderTimeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}

	jobs := queue.NewInMemoryQueue()
	server := httptest.NewServer(api.NewHandler(api.HandlerConfig{
		Orchestrator: orch,
		Capabilities: capability.NewService(orch, logger),
		Providers:    registry,
		Jobs:         jobs,
		Version:      "integration",
		Logger:       logger,
	}))
	t.Cleanup(server.Close)
	admin := httptest.NewServer(api.NewAdminHandler(tracker, calc, logger))
	t.Cleanup(admin.Close)
	return &stack{server: server, admin: admin, tracker: tracker, notifier: notifier, jobs: jobs}
}

func healthyFactories() provider.Factories {
	return provider.Factories{
		Anthropic: func(context.Context) (provider.Client, error) {
			return &scriptedClient{name: provider.Anthropic, fail: true}, nil
		},
		OpenAI: func(context.Context) (provider.Client, error) {
			return &scriptedClient{name: provider.OpenAI, reply: "Try the Simien Mountains trek"}, nil
		},
	}
}

func post(t *testing.T, url, caller string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller-ID", caller)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

var hello = map[string]any{"messages": []map[string]string{{"role": "user", "content": "Where should I hike?"}}}

func TestGenerateFallsBackAndRecordsUsage(t *testing.T) {
	s := setupServer(t, ratelimit.NewInMemoryLimiter(ratelimit.Config{Limit: 10, Window: time.Minute}), healthyFactories())

	resp := post(t, s.server.URL+"/v1/generate", "traveller-1", hello)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result domain.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Provider != "openai" {
		t.Errorf("expected fallback to openai, got %s", result.Provider)
	}

	usage, err := http.Get(s.admin.URL + "/admin/usage/traveller-1")
	if err != nil {
		t.Fatal(err)
	}
	defer usage.Body.Close()
	body, _ := io.ReadAll(usage.Body)
	if !strings.Contains(string(body), `"requests":1`) {
		t.Errorf("expected one recorded request, got %s", body)
	}

	public, err := http.Get(s.server.URL + "/admin/usage/traveller-1")
	if err != nil {
		t.Fatal(err)
	}
	public.Body.Close()
	if public.StatusCode != http.StatusNotFound {
		t.Errorf("admin routes must not be served on the public listener, got %d", public.StatusCode)
	}
}

func TestStreamOverSSE(t *testing.T) {
	s := setupServer(t, ratelimit.NewInMemoryLimiter(ratelimit.Config{Limit: 10, Window: time.Minute}), provider.Factories{
		OpenAI: func(context.Context) (provider.Client, error) {
			return &scriptedClient{name: provider.OpenAI, reply: "Lake Tana monasteries by boat"}, nil
		},
	})

	resp := post(t, s.server.URL+"/v1/stream", "traveller-2", hello)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var text strings.Builder
	var done bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimPrefix(scanner.Text(), "data: ")
		if line == "[DONE]" {
			done = true
			break
		}
		var frame struct {
			Text string `json:"text"`
		}
		if json.Unmarshal([]byte(line), &frame) == nil {
			text.WriteString(frame.Text)
		}
	}
	if !done {
		t.Error("stream ended without [DONE]")
	}
	if got := strings.TrimSpace(text.String()); got != "Lake Tana monasteries by boat" {
		t.Errorf("unexpected streamed text %q", got)
	}
}

func TestRateLimiting(t *testing.T) {
	s := setupServer(t, ratelimit.NewInMemoryLimiter(ratelimit.Config{Limit: 3, Window: time.Minute}), healthyFactories())

	for i := 0; i < 5; i++ {
		resp := post(t, s.server.URL+"/v1/generate", "traveller-3", hello)
		if i < 3 && resp.StatusCode != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
		if i >= 3 {
			if resp.StatusCode != http.StatusTooManyRequests {
				t.Errorf("request %d: expected 429, got %d", i, resp.StatusCode)
			}
			if resp.Header.Get("Retry-After") == "" {
				t.Errorf("request %d: missing Retry-After", i)
			}
		}
	}

	if resp := post(t, s.server.URL+"/v1/generate", "traveller-4", hello); resp.StatusCode != http.StatusOK {
		t.Errorf("other caller should not be limited, got %d", resp.StatusCode)
	}
}

func TestOutageNotifies(t *testing.T) {
	s := setupServer(t, ratelimit.NewInMemoryLimiter(ratelimit.Config{Limit: 10, Window: time.Minute}), provider.Factories{
		Anthropic: func(context.Context) (provider.Client, error) {
			return &scriptedClient{name: provider.Anthropic, fail: true}, nil
		},
	})

	resp := post(t, s.server.URL+"/v1/generate", "traveller-5", hello)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if len(s.notifier.Notifications()) != 1 {
		t.Errorf("expected one outage notification, got %d", len(s.notifier.Notifications()))
	}
}

func TestContentJobEnqueued(t *testing.T) {
	s := setupServer(t, ratelimit.NewInMemoryLimiter(ratelimit.Config{Limit: 10, Window: time.Minute}), healthyFactories())

	resp := post(t, s.server.URL+"/v1/jobs/content", "host-1", capability.ContentRequest{
		Kind:    capability.ContentSocialPost,
		Title:   "Timkat in Gondar",
		Details: "January festival at Fasilides' Bath",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	jobs, _ := s.jobs.ReceiveJobs(context.Background(), 10)
	if len(jobs) != 1 || jobs[0].CallerID != "host-1" {
		t.Errorf("expected one job for host-1, got %+v", jobs)
	}
}

func TestRedisRateLimiting(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set, skipping Redis tests")
	}

	limiter, err := ratelimit.NewRedisLimiter(redisURL, ratelimit.Config{Limit: 2, Window: time.Minute})
	if err != nil {
		t.Fatalf("NewRedisLimiter() error = %v", err)
	}
	defer limiter.Close()

	s := setupServer(t, limiter, healthyFactories())
	caller := fmt.Sprintf("redis-caller-%d", time.Now().UnixNano())

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = post(t, s.server.URL+"/v1/generate", caller, hello).StatusCode
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}
}
