package event

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/modelsync/collab/internal/event"

// Dispatcher runs exactly one handler per input: the first, in registration
// order, whose CanHandle accepts it.
type Dispatcher struct {
	tracer trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

// NewDispatcher creates a dispatcher. Without WithTracer it uses the global
// tracer provider.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	return d
}

// Dispatch selects and runs the handler for input. A panicking handler is
// recovered and reported as a failed response.
func (d *Dispatcher) Dispatch(ctx context.Context, ec EditingContext, input Input, handlers []Handler) Response {
	kind := inputKind(input)
	ctx, span := d.tracer.Start(ctx, "event.dispatch",
		trace.WithAttributes(
			attribute.String("project.id", ec.ProjectID),
			attribute.String("input.kind", kind),
		),
	)
	defer span.End()

	start := time.Now()
	resp := d.dispatch(ctx, ec, input, handlers)

	span.SetAttributes(attribute.Bool("response.success", resp.Success))
	if !resp.Success {
		span.SetStatus(codes.Error, resp.Err.Error())
	}
	glog.V(2).Infof("[dispatch] project=%s input=%s success=%t took=%s", ec.ProjectID, kind, resp.Success, time.Since(start))
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, ec EditingContext, input Input, handlers []Handler) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("handler panicked on %s: %v\n%s", inputKind(input), r, debug.Stack())
			resp = Failed(fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		}
	}()

	if input == nil {
		return Failed(unsupported(input, handlers))
	}
	for _, h := range handlers {
		if h.CanHandle(input) {
			if err := ctx.Err(); err != nil {
				return Failed(err)
			}
			resp = h.Handle(ctx, ec, input)
			return normalize(resp)
		}
	}
	return Failed(unsupported(input, handlers))
}

// normalize enforces the one-payload invariant on responses built by hand.
func normalize(resp Response) Response {
	if resp.Success {
		if resp.Refresh == nil {
			resp.Refresh = NoRepresentations
		}
		resp.Err = nil
		return resp
	}
	if resp.Err == nil {
		resp.Err = ErrHandlerFailure
	}
	return Failed(resp.Err)
}

func unsupported(input Input, handlers []Handler) error {
	expected := make([]string, 0, len(handlers))
	for _, h := range handlers {
		expected = append(expected, fmt.Sprintf("%q", h.InputKind()))
	}
	if len(expected) == 0 {
		return fmt.Errorf("%w: %q has been received while no input is accepted", ErrUnsupportedInput, inputKind(input))
	}
	return fmt.Errorf("%w: %q has been received while %s was expected",
		ErrUnsupportedInput, inputKind(input), strings.Join(expected, " or "))
}

func inputKind(input Input) string {
	if input == nil {
		return "<nil>"
	}
	return input.Kind()
}
