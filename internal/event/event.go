// Package event defines the inputs, handlers and responses exchanged with
// event processors, and the dispatcher that picks the handler for an input.
package event

import (
	"context"

	"github.com/modelsync/collab/internal/model"
	"github.com/modelsync/collab/internal/representation"
)

// Input is a request addressed to a project or a representation. Kind is the
// discriminating tag handlers match on.
type Input interface {
	Kind() string
}

// EditingContext is what a handler may read and mutate.
type EditingContext struct {
	ProjectID string
	Model     *model.Model

	// Representation is the current snapshot when the input is addressed to
	// a representation, nil for project-scoped inputs.
	Representation *representation.Representation
}

// Handler applies one kind of input.
type Handler interface {
	// InputKind is the kind of input this handler is registered for.
	InputKind() string
	CanHandle(input Input) bool
	Handle(ctx context.Context, ec EditingContext, input Input) Response
}

// HandleFunc is the body of a handler built with NewHandler.
type HandleFunc func(ctx context.Context, ec EditingContext, input Input) Response

type funcHandler struct {
	kind string
	fn   HandleFunc
}

// NewHandler returns a handler accepting inputs whose Kind equals kind.
func NewHandler(kind string, fn HandleFunc) Handler {
	return &funcHandler{kind: kind, fn: fn}
}

func (h *funcHandler) InputKind() string { return h.kind }

func (h *funcHandler) CanHandle(input Input) bool {
	return input != nil && input.Kind() == h.kind
}

func (h *funcHandler) Handle(ctx context.Context, ec EditingContext, input Input) Response {
	return h.fn(ctx, ec, input)
}
