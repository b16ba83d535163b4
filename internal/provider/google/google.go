// Package google implements provider.Client for Gemini through any-llm-go.
package google

import (
	"context"
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"

	"github.com/felipepmaragno/tourai/internal/domain"
	"github.com/felipepmaragno/tourai/internal/provider"
)

type Client struct {
	backend anyllmlib.Provider
	model   string
}

func New(apiKey, model string, opts ...anyllmlib.Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("google: model must not be empty")
	}

	backend, err := gemini.New(append([]anyllmlib.Option{anyllmlib.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("google: create gemini backend: %w", err)
	}
	return &Client{backend: backend, model: model}, nil
}

func (c *Client) Name() provider.Name { return provider.Google }

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{Streaming: true}
}

func (c *Client) Complete(ctx context.Context, req provider.Request) (*provider.Reply, error) {
	params := c.buildParams(req)

	resp, err := c.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("google: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("google: %w", domain.ErrEmptyReply)
	}

	reply := &provider.Reply{
		Text:  resp.Choices[0].Message.ContentString(),
		Model: params.Model,
	}
	if resp.Usage != nil {
		reply.Usage = &domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return reply, nil
}

func (c *Client) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
	backendChunks, backendErrs := c.backend.CompletionStream(ctx, c.buildParams(req))

	chunks := make(chan provider.Chunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case chunks <- provider.Chunk{Text: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		// Errors are only reported once the chunk channel drains.
		if err := <-backendErrs; err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("google: stream: %w", err)
		}
	}()

	return chunks, errs
}

func (c *Client) buildParams(req provider.Request) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	temp := req.Temperature
	params := anyllmlib.CompletionParams{
		Model:       model,
		Messages:    messages,
		Temperature: &temp,
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

func convertMessage(m domain.Message) anyllmlib.Message {
	role := string(m.Role)
	if m.Role == domain.RoleSystem {
		role = anyllmlib.RoleSystem
	}
	return anyllmlib.Message{Role: role, Content: m.Content}
}
