package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/golang/glog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/modelsync/collab/internal/event"
	"github.com/modelsync/collab/internal/model"
	"github.com/modelsync/collab/internal/representation"
	"github.com/modelsync/collab/internal/subscription"
)

// Snapshot is a published representation.
type Snapshot = *representation.Representation

// ProjectEventProcessor serializes every access to one project's model.
type ProjectEventProcessor struct {
	id         string
	store      ModelStore
	renderer   Renderer
	handlers   HandlerProvider
	dispatcher *event.Dispatcher
	tracer     trace.Tracer
	workers    *semaphore.Weighted

	persistOnSubmit  bool
	subscriberBuffer int

	// onDispose is called once, after the processor has been disposed.
	onDispose func(*ProjectEventProcessor)

	mu              sync.Mutex
	model           *model.Model
	representations map[string]*RepresentationEventProcessor
	disposed        bool
}

// ID returns the project id.
func (p *ProjectEventProcessor) ID() string {
	return p.id
}

// acquireWorker bounds CPU-heavy work across projects.
func (p *ProjectEventProcessor) acquireWorker(ctx context.Context) error {
	if p.workers == nil {
		return nil
	}
	return p.workers.Acquire(ctx, 1)
}

func (p *ProjectEventProcessor) releaseWorker() {
	if p.workers != nil {
		p.workers.Release(1)
	}
}

// Submit dispatches a project-scoped input. On success every open
// representation whose kind the response selects is refreshed.
func (p *ProjectEventProcessor) Submit(ctx context.Context, input event.Input) event.Response {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return event.Failed(fmt.Errorf("%w: project %s", ErrDisposed, p.id))
	}
	if err := p.acquireWorker(ctx); err != nil {
		return event.Failed(err)
	}
	defer p.releaseWorker()

	ec := event.EditingContext{ProjectID: p.id, Model: p.model}
	resp := p.dispatcher.Dispatch(ctx, ec, input, p.handlers.Project())
	if resp.Success {
		p.afterSuccessLocked(ctx, &resp, nil)
	}
	return resp
}

// SubmitRepresentation dispatches an input addressed to the open
// representation representationID.
func (p *ProjectEventProcessor) SubmitRepresentation(ctx context.Context, representationID string, input event.Input) event.Response {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return event.Failed(fmt.Errorf("%w: project %s", ErrDisposed, p.id))
	}
	r, ok := p.representations[representationID]
	if !ok {
		return event.Failed(fmt.Errorf("%w: %s", ErrRepresentationNotFound, representationID))
	}
	if err := p.acquireWorker(ctx); err != nil {
		return event.Failed(err)
	}
	defer p.releaseWorker()

	current, _ := r.subs.Latest()
	ec := event.EditingContext{ProjectID: p.id, Model: p.model, Representation: current}
	resp := p.dispatcher.Dispatch(ctx, ec, input, r.handlers)
	if resp.Success {
		p.afterSuccessLocked(ctx, &resp, r)
	}
	return resp
}

// afterSuccessLocked refreshes affected representations and optionally
// persists. origin, when set, is always refreshed. The change is already
// applied, so both ignore the submitter's cancellation. A failed persist is
// added to the response warnings.
func (p *ProjectEventProcessor) afterSuccessLocked(ctx context.Context, resp *event.Response, origin *RepresentationEventProcessor) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range p.sortedRepresentationsLocked() {
		if r == origin || resp.ShouldRefresh(r.cfg.Kind) {
			p.refreshLocked(ctx, r)
		}
	}
	if p.persistOnSubmit {
		if err := p.store.Persist(ctx, p.id, p.model.Clone()); err != nil {
			err = fmt.Errorf("%w: project %s: %v", ErrPersistence, p.id, err)
			glog.Warningf("[project %s] persisting after submit: %v", p.id, err)
			resp.Warnings = append(resp.Warnings, err.Error())
		}
	}
}

// sortedRepresentationsLocked returns open representations in a stable order.
func (p *ProjectEventProcessor) sortedRepresentationsLocked() []*RepresentationEventProcessor {
	out := make([]*RepresentationEventProcessor, 0, len(p.representations))
	for _, r := range p.representations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// refreshLocked refreshes r; a representation that can no longer be
// rendered, for example because its target was deleted, is disposed. A
// cancelled or expired context leaves it open with its previous snapshot.
func (p *ProjectEventProcessor) refreshLocked(ctx context.Context, r *RepresentationEventProcessor) {
	err := r.refreshLocked(ctx, p.model)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		glog.Warningf("[project %s] refreshing representation %s: %v", p.id, r.id, err)
	default:
		glog.Warningf("[project %s] disposing representation %s: %v", p.id, r.id, err)
		p.disposeRepresentationLocked(r)
	}
}

// GetOrCreateRepresentationProcessor returns the processor for cfg, creating
// it and rendering its first snapshot if it is not open yet.
func (p *ProjectEventProcessor) GetOrCreateRepresentationProcessor(ctx context.Context, cfg representation.Configuration) (*RepresentationEventProcessor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getOrCreateLocked(ctx, cfg)
}

func (p *ProjectEventProcessor) getOrCreateLocked(ctx context.Context, cfg representation.Configuration) (*RepresentationEventProcessor, error) {
	if p.disposed {
		return nil, fmt.Errorf("%w: project %s", ErrDisposed, p.id)
	}
	cfg, err := p.configurationFor(cfg)
	if err != nil {
		return nil, err
	}
	id := cfg.ID()
	if r, ok := p.representations[id]; ok {
		return r, nil
	}

	if err := p.acquireWorker(ctx); err != nil {
		return nil, err
	}
	defer p.releaseWorker()

	r := &RepresentationEventProcessor{
		id:       id,
		cfg:      cfg,
		project:  p,
		renderer: p.renderer,
		tracer:   p.tracer,
		handlers: p.handlers.Representation(cfg.Kind),
		subs:     subscription.NewManager[Snapshot](id, p.subscriberBuffer),
	}
	if err := r.refreshLocked(ctx, p.model); err != nil {
		return nil, fmt.Errorf("rendering %s representation: %w", cfg.Kind, err)
	}
	p.representations[id] = r
	glog.Infof("[project %s] opened %s representation %s", p.id, cfg.Kind, id)
	return r, nil
}

func (p *ProjectEventProcessor) configurationFor(cfg representation.Configuration) (representation.Configuration, error) {
	cfg = cfg.Normalize()
	switch cfg.ProjectID {
	case "":
		cfg.ProjectID = p.id
	case p.id:
	default:
		return cfg, fmt.Errorf("%w: %s", ErrConfigurationMismatched, cfg.ProjectID)
	}
	return cfg, nil
}

// Subscribe opens the representation for cfg if needed and registers
// subscriberID on it in one step, so a concurrent last unsubscribe cannot
// dispose the processor in between. The first value on the subscription is
// the current snapshot.
func (p *ProjectEventProcessor) Subscribe(ctx context.Context, cfg representation.Configuration, subscriberID string) (*RepresentationEventProcessor, *subscription.Subscription[Snapshot], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, err := p.getOrCreateLocked(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	sub, err := r.subs.Subscribe(subscriberID)
	if err != nil {
		if r.subs.Count() == 0 {
			p.disposeRepresentationLocked(r)
		}
		return nil, nil, err
	}
	return r, sub, nil
}

// Unsubscribe removes subscriberID from representationID and disposes the
// representation once its last subscriber is gone. It reports whether the
// subscriber was registered; it never fails, even after disposal.
func (p *ProjectEventProcessor) Unsubscribe(representationID, subscriberID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.representations[representationID]
	if !ok {
		return false
	}
	removed := r.subs.Unsubscribe(subscriberID)
	if r.subs.Count() == 0 {
		p.disposeRepresentationLocked(r)
	}
	return removed
}

// RepresentationProcessor returns an open representation.
func (p *ProjectEventProcessor) RepresentationProcessor(representationID string) (*RepresentationEventProcessor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.representations[representationID]
	return r, ok
}

// Render renders cfg once against the current model without opening it.
func (p *ProjectEventProcessor) Render(ctx context.Context, cfg representation.Configuration) (*representation.Representation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return nil, fmt.Errorf("%w: project %s", ErrDisposed, p.id)
	}
	cfg, err := p.configurationFor(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.acquireWorker(ctx); err != nil {
		return nil, err
	}
	defer p.releaseWorker()
	return p.renderer.Render(ctx, p.model, cfg)
}

// Read calls fn with the model while holding the project lock. fn must not
// retain or mutate the model.
func (p *ProjectEventProcessor) Read(fn func(m *model.Model) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed {
		return fmt.Errorf("%w: project %s", ErrDisposed, p.id)
	}
	return fn(p.model)
}

// Stats describes the project and its open representations.
func (p *ProjectEventProcessor) Stats() ProjectStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := ProjectStats{ID: p.id, Representations: []RepresentationStats{}}
	if p.model != nil {
		stats.Revision = p.model.Revision
	}
	for _, r := range p.sortedRepresentationsLocked() {
		stats.Representations = append(stats.Representations, r.statsLocked())
	}
	return stats
}

// Disposed reports whether Dispose has run.
func (p *ProjectEventProcessor) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

// Dispose closes every open representation, persists the model and detaches
// the processor from its registry. In-memory state is discarded even when
// persisting fails; the failure is returned wrapped in ErrPersistence.
func (p *ProjectEventProcessor) Dispose(ctx context.Context) error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	for _, r := range p.sortedRepresentationsLocked() {
		p.disposeRepresentationLocked(r)
	}
	var err error
	if perr := p.store.Persist(ctx, p.id, p.model.Clone()); perr != nil {
		err = fmt.Errorf("%w: project %s: %v", ErrPersistence, p.id, perr)
	}
	p.model = nil
	p.mu.Unlock()

	if err != nil {
		glog.Warningf("[project %s] %v", p.id, err)
	}
	glog.Infof("[project %s] disposed", p.id)
	if p.onDispose != nil {
		p.onDispose(p)
	}
	return err
}

func (p *ProjectEventProcessor) disposeRepresentationLocked(r *RepresentationEventProcessor) {
	if cur, ok := p.representations[r.id]; !ok || cur != r {
		return
	}
	delete(p.representations, r.id)
	r.subs.DisposeAll()
	glog.Infof("[project %s] closed representation %s", p.id, r.id)
}
