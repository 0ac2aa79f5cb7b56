package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/modelsync/collab/internal/event"
	"github.com/modelsync/collab/internal/handlers"
	"github.com/modelsync/collab/internal/model"
	"github.com/modelsync/collab/internal/processor"
	"github.com/modelsync/collab/internal/protocol"
	"github.com/modelsync/collab/internal/representation"
	"github.com/modelsync/collab/internal/subscription"
)

// Operation names that are not mutations.
const (
	OpRepresentationEvent = "representationEvent"
	OpRepresentation      = "representation"
	OpObject              = "object"
)

// Router resolves the target of a start payload and runs it.
type Router struct {
	registry *processor.Registry
	resolver model.ObjectResolver
}

// NewRouter creates a router. A nil resolver uses model.Resolver.
func NewRouter(registry *processor.Registry, resolver model.ObjectResolver) *Router {
	if resolver == nil {
		resolver = model.Resolver{}
	}
	return &Router{registry: registry, resolver: resolver}
}

// Kind returns the operation kind of a named operation.
func (rt *Router) Kind(operationName string) (string, bool) {
	switch operationName {
	case OpRepresentationEvent:
		return protocol.OperationSubscription, true
	case OpRepresentation, OpObject:
		return protocol.OperationQuery, true
	}
	if handlers.Known(operationName) {
		return protocol.OperationMutation, true
	}
	return "", false
}

func (rt *Router) checkKind(op protocol.StartPayload, want string) error {
	kind, ok := rt.Kind(op.OperationName)
	if !ok {
		return fmt.Errorf("unknown operation %q", op.OperationName)
	}
	if kind != want || (op.Operation != "" && op.Operation != kind) {
		return fmt.Errorf("operation %q is a %s, not a %s", op.OperationName, kind, op.Operation)
	}
	return nil
}

func inputOf(variables json.RawMessage) (json.RawMessage, error) {
	if len(variables) == 0 {
		return nil, errors.New("variables.input is required")
	}
	var v struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(variables, &v); err != nil {
		return nil, fmt.Errorf("decoding variables: %w", err)
	}
	if len(v.Input) == 0 || string(v.Input) == "null" {
		return nil, errors.New("variables.input is required")
	}
	return v.Input, nil
}

// Result is the outcome of a query or mutation. Warnings report problems
// that did not prevent the result.
type Result struct {
	Value    any
	Warnings []string
}

// Execute runs a query or mutation once and returns its result. Handler
// failures are results, not errors: they come back as an ErrorPayload.
// Errors are reserved for requests that could not be routed.
func (rt *Router) Execute(ctx context.Context, op protocol.StartPayload) (Result, error) {
	kind, ok := rt.Kind(op.OperationName)
	if !ok {
		return Result{}, fmt.Errorf("unknown operation %q", op.OperationName)
	}
	if kind == protocol.OperationSubscription {
		return Result{}, fmt.Errorf("operation %q is a subscription", op.OperationName)
	}
	if err := rt.checkKind(op, kind); err != nil {
		return Result{}, err
	}
	input, err := inputOf(op.Variables)
	if err != nil {
		return Result{}, err
	}

	var value any
	switch op.OperationName {
	case OpRepresentation:
		value, err = rt.representation(ctx, input)
	case OpObject:
		value, err = rt.object(ctx, input)
	default:
		return rt.mutate(ctx, op.OperationName, input)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Value: value}, nil
}

func (rt *Router) mutate(ctx context.Context, name string, data json.RawMessage) (Result, error) {
	input, scope, err := handlers.Decode(name, data)
	if err != nil {
		return Result{}, err
	}
	projectID := input.(interface{ Project() string }).Project()

	p, err := rt.registry.Acquire(ctx, projectID)
	if err != nil {
		return Result{}, err
	}
	defer rt.release(p)

	var resp event.Response
	if scope == handlers.RepresentationScope {
		representationID := input.(interface{ Representation() string }).Representation()
		resp = p.SubmitRepresentation(ctx, representationID, input)
	} else {
		resp = p.Submit(ctx, input)
	}
	if errors.Is(resp.Err, processor.ErrRepresentationNotFound) || errors.Is(resp.Err, processor.ErrDisposed) {
		return Result{}, resp.Err
	}
	return Result{Value: resp.Payload, Warnings: resp.Warnings}, nil
}

func (rt *Router) representation(ctx context.Context, data json.RawMessage) (any, error) {
	var cfg representation.Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	p, err := rt.registry.Acquire(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	defer rt.release(p)
	return p.Render(ctx, cfg)
}

func (rt *Router) object(ctx context.Context, data json.RawMessage) (any, error) {
	var in struct {
		ProjectID string `json:"projectId"`
		ObjectID  string `json:"objectId"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decoding object input: %w", err)
	}
	p, err := rt.registry.Acquire(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	defer rt.release(p)

	var found *model.Object
	err = p.Read(func(m *model.Model) error {
		if obj, ok := rt.resolver.Resolve(m, in.ObjectID); ok {
			found = obj.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, nil
	}
	return found, nil
}

func (rt *Router) release(p *processor.ProjectEventProcessor) {
	if err := rt.registry.Release(p); err != nil {
		glog.Warningf("releasing project %s: %v", p.ID(), err)
	}
}

// Subscribe opens a live subscription for a representationEvent operation.
func (rt *Router) Subscribe(ctx context.Context, subscriberID string, op protocol.StartPayload) (*LiveSubscription, error) {
	if err := rt.checkKind(op, protocol.OperationSubscription); err != nil {
		return nil, err
	}
	input, err := inputOf(op.Variables)
	if err != nil {
		return nil, err
	}
	var cfg representation.Configuration
	if err := json.Unmarshal(input, &cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	p, err := rt.registry.Acquire(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	r, sub, err := p.Subscribe(ctx, cfg, subscriberID)
	if err != nil {
		rt.release(p)
		return nil, err
	}
	return &LiveSubscription{router: rt, project: p, representationID: r.ID(), subscriberID: subscriberID, sub: sub}, nil
}

// LiveSubscription is an open representationEvent subscription holding a
// reference on its project.
type LiveSubscription struct {
	router           *Router
	project          *processor.ProjectEventProcessor
	representationID string
	subscriberID     string
	sub              *subscription.Subscription[processor.Snapshot]
	once             sync.Once
}

// C delivers snapshots until the subscription ends.
func (l *LiveSubscription) C() <-chan processor.Snapshot {
	return l.sub.C
}

// Err reports why C was closed.
func (l *LiveSubscription) Err() error {
	return l.sub.Err()
}

// Close unsubscribes and drops the project reference. It is idempotent.
func (l *LiveSubscription) Close() {
	l.once.Do(func() {
		l.project.Unsubscribe(l.representationID, l.subscriberID)
		l.router.release(l.project)
	})
}
