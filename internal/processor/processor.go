// Package processor owns the editing sessions of live projects.
//
// A ProjectEventProcessor is the only writer of its model: every submit,
// project or representation scoped, runs under its mutex, and so do the
// refreshes triggered by a submit. Snapshots are published to subscribers
// only once fully rendered, in version order.
package processor

import (
	"context"
	"errors"
	"runtime"

	"github.com/golang/glog"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/modelsync/collab/internal/event"
	"github.com/modelsync/collab/internal/model"
	"github.com/modelsync/collab/internal/representation"
)

var (
	ErrPersistence             = errors.New("persisting model failed")
	ErrDisposed                = errors.New("processor disposed")
	ErrRepresentationNotFound  = errors.New("representation not found")
	ErrRegistryClosed          = errors.New("registry closed")
	ErrInvalidProjectID        = errors.New("invalid project id")
	ErrConfigurationMismatched = errors.New("configuration belongs to another project")
)

// ModelStore loads and persists project models.
type ModelStore interface {
	Load(ctx context.Context, projectID string) (*model.Model, error)
	Persist(ctx context.Context, projectID string, m *model.Model) error
}

// Renderer computes a representation snapshot from a model.
type Renderer interface {
	Render(ctx context.Context, m *model.Model, cfg representation.Configuration) (*representation.Representation, error)
}

// HandlerProvider supplies the handlers of each scope.
type HandlerProvider interface {
	Project() []event.Handler
	Representation(kind string) []event.Handler
}

// DefaultWorkers is the number of logical CPUs, used when no worker bound is
// configured.
func DefaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		glog.Warningf("counting CPUs: %v, falling back to GOMAXPROCS", err)
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// RepresentationStats describes an open representation.
type RepresentationStats struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Label       string `json:"label"`
	Version     uint64 `json:"version"`
	Subscribers int    `json:"subscribers"`
}

// ProjectStats describes a live project.
type ProjectStats struct {
	ID              string                `json:"id"`
	References      int                   `json:"references"`
	Revision        uint64                `json:"revision"`
	Representations []RepresentationStats `json:"representations"`
}
