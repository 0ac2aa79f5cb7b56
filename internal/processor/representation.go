package processor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/modelsync/collab/internal/event"
	"github.com/modelsync/collab/internal/model"
	"github.com/modelsync/collab/internal/representation"
	"github.com/modelsync/collab/internal/subscription"
)

// RepresentationEventProcessor owns one open representation: its current
// snapshot, its handlers and its subscribers. Its state is guarded by the
// parent project's mutex.
type RepresentationEventProcessor struct {
	id       string
	cfg      representation.Configuration
	project  *ProjectEventProcessor
	renderer Renderer
	tracer   trace.Tracer
	handlers []event.Handler
	subs     *subscription.Manager[Snapshot]

	version uint64
}

// ID returns the representation id, derived from its configuration.
func (r *RepresentationEventProcessor) ID() string {
	return r.id
}

// Configuration returns the normalized configuration.
func (r *RepresentationEventProcessor) Configuration() representation.Configuration {
	return r.cfg
}

// Current returns the latest published snapshot.
func (r *RepresentationEventProcessor) Current() Snapshot {
	s, _ := r.subs.Latest()
	return s
}

// Subscribers returns the number of subscribers.
func (r *RepresentationEventProcessor) Subscribers() int {
	return r.subs.Count()
}

// Submit dispatches a representation-scoped input through the parent
// project, serialized with every other submit of the project.
func (r *RepresentationEventProcessor) Submit(ctx context.Context, input event.Input) event.Response {
	return r.project.SubmitRepresentation(ctx, r.id, input)
}

// Refresh recomputes the snapshot and publishes it. Redundant calls are
// harmless: each publishes a complete snapshot with a higher version.
func (r *RepresentationEventProcessor) Refresh(ctx context.Context) error {
	p := r.project
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed || r.subs.Disposed() {
		return fmt.Errorf("%w: representation %s", ErrDisposed, r.id)
	}
	if err := p.acquireWorker(ctx); err != nil {
		return err
	}
	defer p.releaseWorker()
	return r.refreshLocked(ctx, p.model)
}

// Dispose closes every subscription and detaches the representation from
// its project.
func (r *RepresentationEventProcessor) Dispose() {
	p := r.project
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposeRepresentationLocked(r)
}

func (r *RepresentationEventProcessor) refreshLocked(ctx context.Context, m *model.Model) error {
	ctx, span := r.tracer.Start(ctx, "representation.refresh",
		trace.WithAttributes(
			attribute.String("representation.id", r.id),
			attribute.String("representation.kind", r.cfg.Kind),
		),
	)
	defer span.End()

	snapshot, err := r.renderer.Render(ctx, m, r.cfg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	r.version++
	snapshot.Version = r.version
	span.SetAttributes(attribute.Int64("representation.version", int64(r.version)))
	r.subs.Publish(snapshot)
	return nil
}

func (r *RepresentationEventProcessor) statsLocked() RepresentationStats {
	stats := RepresentationStats{ID: r.id, Kind: r.cfg.Kind, Subscribers: r.subs.Count()}
	if cur := r.Current(); cur != nil {
		stats.Label = cur.Label
		stats.Version = cur.Version
	}
	return stats
}
