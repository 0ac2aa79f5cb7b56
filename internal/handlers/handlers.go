// Package handlers implements the project and representation mutations
// understood by the event processors.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelsync/collab/internal/event"
	"github.com/modelsync/collab/internal/model"
	"github.com/modelsync/collab/internal/render"
	"github.com/modelsync/collab/internal/representation"
)

var errEmptyName = errors.New("name must not be empty")

// SuccessPayload is returned by every successful mutation. ID is the id of
// the element the mutation created or changed.
type SuccessPayload struct {
	Typename string `json:"__typename"`
	ID       string `json:"id,omitempty"`
}

func succeeded(id string, refresh event.Filter) event.Response {
	return event.Succeeded(&SuccessPayload{Typename: "SuccessPayload", ID: id}, refresh)
}

func failed(err error) event.Response {
	return event.Failed(fmt.Errorf("%w: %v", event.ErrHandlerFailure, err))
}

// Set holds the handlers registered for each scope.
type Set struct {
	resolver model.ObjectResolver
}

// New returns the default handler set. A nil resolver uses model.Resolver.
func New(resolver model.ObjectResolver) *Set {
	if resolver == nil {
		resolver = model.Resolver{}
	}
	return &Set{resolver: resolver}
}

// Project returns the project-scoped handlers in registration order.
func (s *Set) Project() []event.Handler {
	return []event.Handler{
		handle(KindRenameObject, s.renameObject),
		handle(KindCreateRootObject, s.createRootObject),
		handle(KindCreateChild, s.createChild),
		handle(KindDeleteObject, s.deleteObject),
		handle(KindCreateDocument, s.createDocument),
		handle(KindRenameDocument, s.renameDocument),
		handle(KindDeleteDocument, s.deleteDocument),
		handle(KindRenameRepresentation, s.renameRepresentation),
	}
}

// Representation returns the handlers for representations of the given kind.
func (s *Set) Representation(kind string) []event.Handler {
	switch kind {
	case representation.KindTree:
		return []event.Handler{handle(KindEditLabel, s.editLabel)}
	case representation.KindDiagram:
		return []event.Handler{
			handle(KindEditLabel, s.editLabel),
			handle(KindInvokeNodeTool, s.invokeNodeTool),
		}
	case representation.KindForm:
		return []event.Handler{handle(KindEditWidget, s.editWidget)}
	}
	return nil
}

// handle adapts a typed handler body to event.Handler.
func handle[I event.Input](kind string, fn func(context.Context, event.EditingContext, I) event.Response) event.Handler {
	return event.NewHandler(kind, func(ctx context.Context, ec event.EditingContext, input event.Input) event.Response {
		in, ok := input.(I)
		if !ok {
			return failed(fmt.Errorf("unexpected input type %T for %s", input, kind))
		}
		return fn(ctx, ec, in)
	})
}

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errEmptyName
	}
	return nil
}

func (s *Set) renameObject(_ context.Context, ec event.EditingContext, in *RenameObjectInput) event.Response {
	if err := requireName(in.NewName); err != nil {
		return failed(err)
	}
	obj, ok := s.resolver.Resolve(ec.Model, in.ObjectID)
	if !ok {
		return failed(fmt.Errorf("%w: %s", model.ErrObjectNotFound, in.ObjectID))
	}
	if err := ec.Model.SetLabel(obj.ID, in.NewName); err != nil {
		return failed(err)
	}
	return succeeded(obj.ID, event.AllRepresentations)
}

func (s *Set) createRootObject(_ context.Context, ec event.EditingContext, in *CreateRootObjectInput) event.Response {
	if err := requireName(in.ObjectKind); err != nil {
		return failed(fmt.Errorf("kind: %w", err))
	}
	obj, err := ec.Model.AddRootObject(in.DocumentID, in.ObjectKind, in.Label)
	if err != nil {
		return failed(err)
	}
	return succeeded(obj.ID, event.KindsOf(representation.KindTree))
}

func (s *Set) createChild(_ context.Context, ec event.EditingContext, in *CreateChildInput) event.Response {
	if err := requireName(in.ObjectKind); err != nil {
		return failed(fmt.Errorf("kind: %w", err))
	}
	parent, ok := s.resolver.Resolve(ec.Model, in.ObjectID)
	if !ok {
		return failed(fmt.Errorf("%w: %s", model.ErrObjectNotFound, in.ObjectID))
	}
	obj, err := ec.Model.AddChild(parent.ID, in.ObjectKind, in.Label)
	if err != nil {
		return failed(err)
	}
	return succeeded(obj.ID, event.KindsOf(representation.KindTree, representation.KindDiagram))
}

func (s *Set) deleteObject(_ context.Context, ec event.EditingContext, in *DeleteObjectInput) event.Response {
	if _, ok := s.resolver.Resolve(ec.Model, in.ObjectID); !ok {
		return failed(fmt.Errorf("%w: %s", model.ErrObjectNotFound, in.ObjectID))
	}
	if err := ec.Model.RemoveObject(in.ObjectID); err != nil {
		return failed(err)
	}
	return succeeded(in.ObjectID, event.AllRepresentations)
}

func (s *Set) createDocument(_ context.Context, ec event.EditingContext, in *CreateDocumentInput) event.Response {
	if err := requireName(in.Name); err != nil {
		return failed(err)
	}
	d := ec.Model.AddDocument(in.Name)
	return succeeded(d.ID, event.KindsOf(representation.KindTree))
}

func (s *Set) renameDocument(_ context.Context, ec event.EditingContext, in *RenameDocumentInput) event.Response {
	if err := requireName(in.NewName); err != nil {
		return failed(err)
	}
	if err := ec.Model.RenameDocument(in.DocumentID, in.NewName); err != nil {
		return failed(err)
	}
	return succeeded(in.DocumentID, event.KindsOf(representation.KindTree))
}

func (s *Set) deleteDocument(_ context.Context, ec event.EditingContext, in *DeleteDocumentInput) event.Response {
	if err := ec.Model.RemoveDocument(in.DocumentID); err != nil {
		return failed(err)
	}
	return succeeded(in.DocumentID, event.AllRepresentations)
}

func (s *Set) renameRepresentation(_ context.Context, ec event.EditingContext, in *RenameRepresentationInput) event.Response {
	if err := requireName(in.NewLabel); err != nil {
		return failed(err)
	}
	if in.RepresentationID == "" {
		return failed(errors.New("representationId is required"))
	}
	ec.Model.SetRepresentationLabel(in.RepresentationID, in.NewLabel)
	return succeeded(in.RepresentationID, event.AllRepresentations)
}

func (s *Set) editLabel(_ context.Context, ec event.EditingContext, in *EditLabelInput) event.Response {
	if err := requireName(in.NewLabel); err != nil {
		return failed(err)
	}
	objectID := render.ObjectFromElementID(in.ElementID)
	if _, ok := s.resolver.Resolve(ec.Model, objectID); !ok {
		return failed(fmt.Errorf("%w: %s", model.ErrObjectNotFound, in.ElementID))
	}
	if err := ec.Model.SetLabel(objectID, in.NewLabel); err != nil {
		return failed(err)
	}
	return succeeded(in.ElementID, event.AllRepresentations)
}

func (s *Set) invokeNodeTool(_ context.Context, ec event.EditingContext, in *InvokeNodeToolInput) event.Response {
	if err := requireName(in.ToolID); err != nil {
		return failed(fmt.Errorf("toolId: %w", err))
	}
	parentID := render.ObjectFromElementID(in.ElementID)
	if parentID == "" && ec.Representation != nil {
		parentID = ec.Representation.TargetObjectID
	}
	parent, ok := s.resolver.Resolve(ec.Model, parentID)
	if !ok {
		return failed(fmt.Errorf("%w: %s", model.ErrObjectNotFound, in.ElementID))
	}
	obj, err := ec.Model.AddChild(parent.ID, in.ToolID, "New "+in.ToolID)
	if err != nil {
		return failed(err)
	}
	return succeeded(obj.ID, event.KindsOf(representation.KindTree, representation.KindDiagram))
}

func (s *Set) editWidget(_ context.Context, ec event.EditingContext, in *EditWidgetInput) event.Response {
	if ec.Representation == nil {
		return failed(errors.New("no form is open"))
	}
	target, ok := s.resolver.Resolve(ec.Model, ec.Representation.TargetObjectID)
	if !ok {
		return failed(fmt.Errorf("%w: %s", model.ErrObjectNotFound, ec.Representation.TargetObjectID))
	}

	if in.WidgetID == render.WidgetLabel {
		if err := requireName(in.Value); err != nil {
			return failed(err)
		}
		if err := ec.Model.SetLabel(target.ID, in.Value); err != nil {
			return failed(err)
		}
		return succeeded(in.WidgetID, event.AllRepresentations)
	}

	name, ok := render.PropertyFromWidgetID(in.WidgetID)
	if !ok {
		return failed(fmt.Errorf("unknown widget %q", in.WidgetID))
	}
	if current, exists := target.Properties[name]; exists && isBool(current) && !isBool(in.Value) {
		return failed(fmt.Errorf("widget %q expects true or false, got %q", in.WidgetID, in.Value))
	}
	if err := ec.Model.SetProperty(target.ID, name, in.Value); err != nil {
		return failed(err)
	}
	return succeeded(in.WidgetID, event.KindsOf(representation.KindForm))
}

func isBool(v string) bool {
	return v == "true" || v == "false"
}
