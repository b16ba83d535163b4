package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_NoEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "tourai-test", "test", "")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestStartSpan_RecordsAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	ctx, span := StartSpan(context.Background(), "generate")
	AddCallAttributes(span, "chat", []string{"openai", "anthropic"})
	AddResultAttributes(span, "anthropic", "claude-3-5-haiku-20241022", 2)
	AddErrorAttribute(span, errors.New("boom"))

	if GetTraceID(ctx) == "" {
		t.Error("GetTraceID() should return the active trace id")
	}
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if ended[0].Name() != "generate" {
		t.Errorf("span name = %q", ended[0].Name())
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", ended[0].Status().Code)
	}

	found := false
	for _, kv := range ended[0].Attributes() {
		if string(kv.Key) == "tourai.provider" && kv.Value.AsString() == "anthropic" {
			found = true
		}
	}
	if !found {
		t.Error("tourai.provider attribute missing")
	}
}

func TestGetTraceID_NoSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID() = %q, want empty", id)
	}
}
