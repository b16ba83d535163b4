// Package openai implements provider.Client on top of the official OpenAI SDK.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/felipepmaragno/tourai/internal/domain"
	"github.com/felipepmaragno/tourai/internal/httputil"
	"github.com/felipepmaragno/tourai/internal/provider"
)

type Client struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

type Option func(*config)

func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithMaxRetries sets SDK-level retries. Defaults to 0: fallback to the next
// provider is the retry policy.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

func New(apiKey, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{httpClient: httputil.DefaultClient()}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(cfg.httpClient),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Client{client: oai.NewClient(reqOpts...), model: model}, nil
}

func (c *Client) Name() provider.Name { return provider.OpenAI }

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{Streaming: true}
}

func (c *Client) Complete(ctx context.Context, req provider.Request) (*provider.Reply, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		return nil, wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w", domain.ErrEmptyReply)
	}

	return &provider.Reply{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: &domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (c *Client) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
	chunks := make(chan provider.Chunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		stream := c.client.Chat.Completions.NewStreaming(ctx, c.buildParams(req))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case chunks <- provider.Chunk{Text: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			errs <- wrapError(err)
		}
	}()

	return chunks, errs
}

func (c *Client) buildParams(req provider.Request) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	params := oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    messages,
		Temperature: param.NewOpt(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

func convertMessage(m domain.Message) oai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case domain.RoleSystem:
		return oai.SystemMessage(m.Content)
	case domain.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		asst.Content.OfString = oai.String(m.Content)
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
	default:
		return oai.UserMessage(m.Content)
	}
}

func wrapError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return &provider.StatusError{
			Provider:   provider.OpenAI,
			StatusCode: apiErr.StatusCode,
			Body:       apiErr.Error(),
		}
	}
	return fmt.Errorf("openai: %w", err)
}
