// Package anthropic talks to the Anthropic Messages API over plain HTTP.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/felipepmaragno/tourai/internal/domain"
	"github.com/felipepmaragno/tourai/internal/httputil"
	"github.com/felipepmaragno/tourai/internal/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 1024
)

type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type Option func(*Client)

func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func New(apiKey, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  httputil.DefaultClient(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) Name() provider.Name { return provider.Anthropic }

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{Streaming: true}
}

func (c *Client) Complete(ctx context.Context, req provider.Request) (*provider.Reply, error) {
	resp, err := c.do(ctx, c.toMessagesRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mr messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range mr.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	model := mr.Model
	if model == "" {
		model = c.modelFor(req)
	}

	return &provider.Reply{
		Text:  text.String(),
		Model: model,
		Usage: &domain.Usage{
			PromptTokens:     mr.Usage.InputTokens,
			CompletionTokens: mr.Usage.OutputTokens,
			TotalTokens:      mr.Usage.InputTokens + mr.Usage.OutputTokens,
		},
	}, nil
}

func (c *Client) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
	chunks := make(chan provider.Chunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		resp, err := c.do(ctx, c.toMessagesRequest(req, true))
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}

			switch event.Type {
			case "content_block_delta":
				if event.Delta == nil || event.Delta.Text == "" {
					continue
				}
				select {
				case chunks <- provider.Chunk{Text: event.Delta.Text}:
				case <-ctx.Done():
					return
				}
			case "error":
				msg := "stream error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				errs <- fmt.Errorf("anthropic: %s", msg)
				return
			case "message_stop":
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("scan stream: %w", err)
		}
	}()

	return chunks, errs
}

func (c *Client) do(ctx context.Context, body messagesRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if body.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &provider.StatusError{
			Provider:   provider.Anthropic,
			StatusCode: resp.StatusCode,
			Body:       string(bodyBytes),
		}
	}

	return resp, nil
}

func (c *Client) modelFor(req provider.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	System      string    `json:"system,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Model   string         `json:"model"`
	Usage   usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type  string       `json:"type"`
	Delta *streamDelta `json:"delta,omitempty"`
	Error *streamError `json:"error,omitempty"`
}

type streamDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type streamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Anthropic takes the system prompt as a top-level field, not a message.
func (c *Client) toMessagesRequest(req provider.Request, stream bool) messagesRequest {
	system, dialogue := req.System()

	messages := make([]message, 0, len(dialogue))
	for _, m := range dialogue {
		messages = append(messages, message{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	temp := req.Temperature
	// The Messages API caps temperature at 1.0.
	if temp > 1 {
		temp = 1
	}

	return messagesRequest{
		Model:       c.modelFor(req),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: &temp,
		Stream:      stream,
		System:      system,
	}
}
