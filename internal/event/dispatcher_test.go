package event

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	otelcodes "go.opentelemetry.io/otel/codes"
)

type testInput struct{ kind string }

func (i testInput) Kind() string { return i.kind }

func recordingHandler(kind string, calls *[]string, resp Response) Handler {
	return NewHandler(kind, func(_ context.Context, _ EditingContext, in Input) Response {
		*calls = append(*calls, kind)
		return resp
	})
}

func TestDispatch_FirstMatchingHandlerOnly(t *testing.T) {
	var calls []string
	handlers := []Handler{
		recordingHandler("rename", &calls, Succeeded("first", AllRepresentations)),
		recordingHandler("rename", &calls, Succeeded("second", AllRepresentations)),
	}

	resp := NewDispatcher().Dispatch(context.Background(), EditingContext{}, testInput{"rename"}, handlers)

	require.True(t, resp.Success)
	require.Equal(t, "first", resp.Payload)
	require.Equal(t, []string{"rename"}, calls)
}

func TestDispatch_UnsupportedInputNamesKinds(t *testing.T) {
	var calls []string
	handlers := []Handler{
		recordingHandler("rename", &calls, Succeeded(nil, nil)),
		recordingHandler("delete", &calls, Succeeded(nil, nil)),
	}

	resp := NewDispatcher().Dispatch(context.Background(), EditingContext{}, testInput{"move"}, handlers)

	require.False(t, resp.Success)
	require.ErrorIs(t, resp.Err, ErrUnsupportedInput)
	require.Contains(t, resp.Err.Error(), `"move"`)
	require.Contains(t, resp.Err.Error(), `"rename" or "delete"`)
	require.Empty(t, calls)

	payload, ok := resp.Payload.(*ErrorPayload)
	require.True(t, ok)
	require.Equal(t, resp.Err.Error(), payload.Message)
	require.False(t, resp.ShouldRefresh("tree"))
}

func TestDispatch_NilInput(t *testing.T) {
	resp := NewDispatcher().Dispatch(context.Background(), EditingContext{}, nil, nil)
	require.ErrorIs(t, resp.Err, ErrUnsupportedInput)
}

func TestDispatch_PanicBecomesFailure(t *testing.T) {
	handlers := []Handler{
		NewHandler("boom", func(context.Context, EditingContext, Input) Response {
			panic("kaboom")
		}),
	}

	resp := NewDispatcher().Dispatch(context.Background(), EditingContext{}, testInput{"boom"}, handlers)

	require.False(t, resp.Success)
	require.ErrorIs(t, resp.Err, ErrHandlerPanic)
	require.Contains(t, resp.Err.Error(), "kaboom")
}

func TestDispatch_NormalizesHandBuiltFailures(t *testing.T) {
	handlers := []Handler{
		NewHandler("x", func(context.Context, EditingContext, Input) Response {
			return Response{Success: false, Payload: "ignored"}
		}),
	}

	resp := NewDispatcher().Dispatch(context.Background(), EditingContext{}, testInput{"x"}, handlers)

	require.False(t, resp.Success)
	require.ErrorIs(t, resp.Err, ErrHandlerFailure)
	require.IsType(t, &ErrorPayload{}, resp.Payload)
}

func TestDispatch_CancelledContextSkipsHandler(t *testing.T) {
	var calls []string
	handlers := []Handler{recordingHandler("x", &calls, Succeeded(nil, nil))}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := NewDispatcher().Dispatch(ctx, EditingContext{}, testInput{"x"}, handlers)

	require.False(t, resp.Success)
	require.True(t, errors.Is(resp.Err, context.Canceled))
	require.Empty(t, calls)
}

func TestDispatch_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	d := NewDispatcher(WithTracer(provider.Tracer("test")))

	handlers := []Handler{
		NewHandler("fail", func(context.Context, EditingContext, Input) Response {
			return Failed(fmt.Errorf("%w: nope", ErrHandlerFailure))
		}),
	}
	d.Dispatch(context.Background(), EditingContext{ProjectID: "p1"}, testInput{"fail"}, handlers)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "event.dispatch", spans[0].Name())
	require.Equal(t, otelcodes.Error, spans[0].Status().Code)
}

func TestKindsOf(t *testing.T) {
	f := KindsOf("tree", "form")
	require.True(t, f("tree"))
	require.False(t, f("diagram"))
}
