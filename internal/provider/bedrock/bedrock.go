// Package bedrock implements provider.Client for Anthropic models hosted on
// Amazon Bedrock.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/felipepmaragno/tourai/internal/domain"
	"github.com/felipepmaragno/tourai/internal/provider"
)

const (
	bedrockAnthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens        = 1024
)

type runtimeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

type Client struct {
	api   runtimeAPI
	model string
}

func New(ctx context.Context, region, model string) (*Client, error) {
	if region == "" {
		return nil, fmt.Errorf("bedrock: region must not be empty")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithConfig(cfg, model), nil
}

func NewWithConfig(cfg aws.Config, model string) *Client {
	return &Client{api: bedrockruntime.NewFromConfig(cfg), model: model}
}

func (c *Client) Name() provider.Name { return provider.Bedrock }

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{Streaming: true}
}

func (c *Client) Complete(ctx context.Context, req provider.Request) (*provider.Reply, error) {
	modelID := c.modelFor(req)
	body, err := json.Marshal(toInvokeBody(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke model: %w", err)
	}

	var resp invokeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &provider.Reply{
		Text:  text.String(),
		Model: modelID,
		Usage: &domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (c *Client) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, <-chan error) {
	chunks := make(chan provider.Chunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		body, err := json.Marshal(toInvokeBody(req))
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		out, err := c.api.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(c.modelFor(req)),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			errs <- fmt.Errorf("invoke model stream: %w", err)
			return
		}

		stream := out.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			v, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var sc streamChunk
			if err := json.Unmarshal(v.Value.Bytes, &sc); err != nil {
				continue
			}
			if sc.Type == "message_stop" {
				return
			}
			if sc.Type != "content_block_delta" || sc.Delta == nil || sc.Delta.Text == "" {
				continue
			}
			select {
			case chunks <- provider.Chunk{Text: sc.Delta.Text}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("stream error: %w", err)
		}
	}()

	return chunks, errs
}

func (c *Client) modelFor(req provider.Request) string {
	if req.Model != "" {
		return mapModelID(req.Model)
	}
	return mapModelID(c.model)
}

type invokeBody struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	Messages         []message `json:"messages"`
	System           string    `json:"system,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokeResponse struct {
	Content []contentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type streamChunk struct {
	Type  string `json:"type"`
	Delta *struct {
		Text string `json:"text"`
	} `json:"delta,omitempty"`
}

// mapModelID accepts short aliases so model overrides can reuse the
// names callers already know from the Anthropic API.
func mapModelID(model string) string {
	aliases := map[string]string{
		"claude-3-5-sonnet": "anthropic.claude-3-5-sonnet-20241022-v2:0",
		"claude-3-5-haiku":  "anthropic.claude-3-5-haiku-20241022-v1:0",
		"claude-3-haiku":    "anthropic.claude-3-haiku-20240307-v1:0",
		"claude-3-opus":     "anthropic.claude-3-opus-20240229-v1:0",
	}
	if mapped, ok := aliases[model]; ok {
		return mapped
	}
	return model
}

func toInvokeBody(req provider.Request) invokeBody {
	system, dialogue := req.System()

	messages := make([]message, 0, len(dialogue))
	for _, m := range dialogue {
		messages = append(messages, message{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	return invokeBody{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        maxTokens,
		Temperature:      min(req.Temperature, 1),
		Messages:         messages,
		System:           system,
	}
}
