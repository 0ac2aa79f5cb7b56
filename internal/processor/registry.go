package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/modelsync/collab/internal/event"
)

const (
	tracerName = "github.com/modelsync/collab/internal/processor"

	defaultEvictionInterval = 30 * time.Second
	disposeTimeout          = 10 * time.Second
)

// Options tunes a Registry.
type Options struct {
	// Workers bounds concurrent handler and render work across projects.
	// Zero uses DefaultWorkers.
	Workers int

	// IdleTimeout is how long an unreferenced project stays loaded. Zero
	// disposes it as soon as the last reference is released.
	IdleTimeout time.Duration

	// EvictionInterval is how often idle projects are reclaimed.
	EvictionInterval time.Duration

	// PersistOnSubmit persists the model after every successful submit.
	PersistOnSubmit bool

	// SubscriberBuffer is the channel capacity of each subscriber.
	SubscriberBuffer int

	Tracer trace.Tracer
}

type entry struct {
	processor *ProjectEventProcessor
	refs      int

	// disposing is set once the entry is being disposed and closed when
	// Dispose has returned. The entry stays mapped until then so that a
	// concurrent Acquire waits for the persist instead of loading stale data.
	disposing chan struct{}
}

// Registry maps project ids to their processors. At most one processor is
// live per project; it is created on first Acquire and disposed once it has
// been unreferenced for IdleTimeout.
type Registry struct {
	store      ModelStore
	renderer   Renderer
	handlers   HandlerProvider
	dispatcher *event.Dispatcher
	opts       Options
	workers    *semaphore.Weighted

	loads singleflight.Group
	idle  *cache.Cache

	mu       sync.Mutex
	projects map[string]*entry
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(store ModelStore, renderer Renderer, handlers HandlerProvider, opts Options) *Registry {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	if opts.EvictionInterval <= 0 {
		opts.EvictionInterval = defaultEvictionInterval
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	r := &Registry{
		store:      store,
		renderer:   renderer,
		handlers:   handlers,
		dispatcher: event.NewDispatcher(event.WithTracer(opts.Tracer)),
		opts:       opts,
		workers:    semaphore.NewWeighted(int64(opts.Workers)),
		idle:       cache.New(opts.IdleTimeout, opts.EvictionInterval),
		projects:   make(map[string]*entry),
	}
	r.idle.OnEvicted(r.evicted)
	return r
}

// Acquire returns the processor of projectID, loading it if needed, and
// takes a reference on it. Every Acquire must be paired with a Release.
func (r *Registry) Acquire(ctx context.Context, projectID string) (*ProjectEventProcessor, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, ErrInvalidProjectID
	}
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		if e, ok := r.projects[projectID]; ok {
			if e.disposing != nil {
				done := e.disposing
				r.mu.Unlock()
				select {
				case <-done:
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			e.refs++
			r.mu.Unlock()
			// Delete runs the eviction callback, which takes mu.
			r.idle.Delete(projectID)
			return e.processor, nil
		}
		r.mu.Unlock()

		_, err, _ := r.loads.Do(projectID, func() (any, error) {
			return nil, r.load(context.WithoutCancel(ctx), projectID)
		})
		if err != nil {
			return nil, err
		}
	}
}

// load creates the processor of projectID unless another load won the race
// or a previous processor is still being disposed.
func (r *Registry) load(ctx context.Context, projectID string) error {
	r.mu.Lock()
	_, loaded := r.projects[projectID]
	r.mu.Unlock()
	if loaded {
		return nil
	}

	m, err := r.store.Load(ctx, projectID)
	if err != nil {
		return fmt.Errorf("loading project %s: %w", projectID, err)
	}
	p := &ProjectEventProcessor{
		id:               projectID,
		store:            r.store,
		renderer:         r.renderer,
		handlers:         r.handlers,
		dispatcher:       r.dispatcher,
		tracer:           r.opts.Tracer,
		workers:          r.workers,
		persistOnSubmit:  r.opts.PersistOnSubmit,
		subscriberBuffer: r.opts.SubscriberBuffer,
		onDispose:        r.remove,
		model:            m,
		representations:  make(map[string]*RepresentationEventProcessor),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.projects[projectID]; !ok {
		r.projects[projectID] = &entry{processor: p}
		glog.Infof("[registry] loaded project %s (revision %d)", projectID, m.Revision)
	}
	return nil
}

// Release drops a reference taken by Acquire. Releasing the last reference
// schedules the project for disposal, or disposes it right away when
// IdleTimeout is zero.
func (r *Registry) Release(p *ProjectEventProcessor) error {
	r.mu.Lock()
	e, ok := r.projects[p.id]
	if !ok || e.processor != p || e.refs == 0 {
		r.mu.Unlock()
		return nil
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	if r.opts.IdleTimeout > 0 {
		r.mu.Unlock()
		r.idle.Set(p.id, p, cache.DefaultExpiration)
		return nil
	}
	e.disposing = make(chan struct{})
	r.mu.Unlock()

	return r.dispose(e)
}

// evicted disposes an idle project unless it was acquired again meanwhile.
func (r *Registry) evicted(projectID string, v any) {
	p, ok := v.(*ProjectEventProcessor)
	if !ok {
		return
	}
	r.mu.Lock()
	e, ok := r.projects[projectID]
	if !ok || e.processor != p || e.refs > 0 || e.disposing != nil {
		r.mu.Unlock()
		return
	}
	e.disposing = make(chan struct{})
	r.mu.Unlock()

	glog.Infof("[registry] evicting idle project %s", projectID)
	if err := r.dispose(e); err != nil {
		glog.Warningf("[registry] evicting %s: %v", projectID, err)
	}
}

// dispose disposes the processor of an entry marked disposing. Dispose
// unmaps the entry through remove once the model is persisted; waiters are
// woken afterwards.
func (r *Registry) dispose(e *entry) error {
	defer func() {
		r.mu.Lock()
		if cur, ok := r.projects[e.processor.id]; ok && cur == e {
			delete(r.projects, e.processor.id)
		}
		close(e.disposing)
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), disposeTimeout)
	defer cancel()
	return e.processor.Dispose(ctx)
}

// remove forgets p after an explicit Dispose.
func (r *Registry) remove(p *ProjectEventProcessor) {
	r.mu.Lock()
	e, ok := r.projects[p.id]
	if ok && e.processor == p {
		delete(r.projects, p.id)
	}
	r.mu.Unlock()
}

// Get returns a loaded processor without taking a reference.
func (r *Registry) Get(projectID string) (*ProjectEventProcessor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.projects[projectID]
	if !ok || e.disposing != nil {
		return nil, false
	}
	return e.processor, true
}

// Len returns the number of live projects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.projects)
}

// Stats describes every live project, sorted by id.
func (r *Registry) Stats() []ProjectStats {
	r.mu.Lock()
	entries := make([]entry, 0, len(r.projects))
	for _, e := range r.projects {
		entries = append(entries, *e)
	}
	r.mu.Unlock()

	out := make([]ProjectStats, 0, len(entries))
	for _, e := range entries {
		s := e.processor.Stats()
		s.References = e.refs
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown disposes every live project, persisting each model. Projects are
// disposed concurrently, bounded by the worker count; one failure does not
// stop the others. The registry refuses new acquisitions afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	processors := make([]*ProjectEventProcessor, 0, len(r.projects))
	for _, e := range r.projects {
		processors = append(processors, e.processor)
	}
	r.projects = make(map[string]*entry)
	r.mu.Unlock()
	r.idle.Flush()

	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for _, p := range processors {
		g.Go(func() error {
			return p.Dispose(ctx)
		})
	}
	err := g.Wait()
	glog.Infof("[registry] shut down %d projects", len(processors))
	return err
}
