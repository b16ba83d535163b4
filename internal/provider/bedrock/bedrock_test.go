package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/felipepmaragno/tourai/internal/domain"
	"github.com/felipepmaragno/tourai/internal/provider"
)

type mockRuntime struct {
	InvokeModelFunc func(ctx context.Context, params *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error)
}

func (m *mockRuntime) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	return m.InvokeModelFunc(ctx, params)
}

func (m *mockRuntime) InvokeModelWithResponseStream(context.Context, *bedrockruntime.InvokeModelWithResponseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	return nil, errors.New("streaming unavailable in test")
}

func TestComplete(t *testing.T) {
	api := &mockRuntime{
		InvokeModelFunc: func(_ context.Context, params *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
			if got := aws.ToString(params.ModelId); got != "anthropic.claude-3-haiku-20240307-v1:0" {
				t.Errorf("ModelId = %q", got)
			}

			var body invokeBody
			if err := json.Unmarshal(params.Body, &body); err != nil {
				t.Fatalf("unmarshal body: %v", err)
			}
			if body.AnthropicVersion != bedrockAnthropicVersion {
				t.Errorf("anthropic_version = %q", body.AnthropicVersion)
			}
			if body.System != "guide" || len(body.Messages) != 1 {
				t.Errorf("body = %+v", body)
			}

			return &bedrockruntime.InvokeModelOutput{
				Body: []byte(`{"content":[{"type":"text","text":"Try the Simien Mountains."}],"usage":{"input_tokens":9,"output_tokens":6}}`),
			}, nil
		},
	}
	c := &Client{api: api, model: "claude-3-haiku"}

	reply, err := c.Complete(context.Background(), provider.Request{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "guide"},
			{Role: domain.RoleUser, Content: "hiking?"},
		},
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply.Text != "Try the Simien Mountains." {
		t.Errorf("Text = %q", reply.Text)
	}
	if reply.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", reply.Usage.TotalTokens)
	}
}

func TestComplete_InvokeError(t *testing.T) {
	api := &mockRuntime{
		InvokeModelFunc: func(context.Context, *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
			return nil, errors.New("ThrottlingException")
		},
	}
	c := &Client{api: api, model: "m"}

	if _, err := c.Complete(context.Background(), provider.Request{}); err == nil {
		t.Error("Complete() should return error")
	}
}

func TestStream_InvokeError(t *testing.T) {
	c := &Client{api: &mockRuntime{}, model: "m"}

	chunks, errs := c.Stream(context.Background(), provider.Request{})
	for range chunks {
		t.Error("no chunks expected")
	}
	if err := <-errs; err == nil {
		t.Error("expected stream error")
	}
}

func TestMapModelID(t *testing.T) {
	tests := map[string]string{
		"claude-3-5-haiku":                       "anthropic.claude-3-5-haiku-20241022-v1:0",
		"anthropic.claude-3-haiku-20240307-v1:0": "anthropic.claude-3-haiku-20240307-v1:0",
		"meta.llama3-8b-instruct-v1:0":           "meta.llama3-8b-instruct-v1:0",
	}
	for in, want := range tests {
		if got := mapModelID(in); got != want {
			t.Errorf("mapModelID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_EmptyRegion(t *testing.T) {
	if _, err := New(context.Background(), "", "m"); err == nil {
		t.Error("New() should reject an empty region")
	}
}
