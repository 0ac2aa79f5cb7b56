package handlers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelsync/collab/internal/event"
)

// Input kinds.
const (
	KindRenameObject         = "renameObject"
	KindCreateRootObject     = "createRootObject"
	KindCreateChild          = "createChild"
	KindDeleteObject         = "deleteObject"
	KindCreateDocument       = "createDocument"
	KindRenameDocument       = "renameDocument"
	KindDeleteDocument       = "deleteDocument"
	KindRenameRepresentation = "renameRepresentation"

	KindEditLabel      = "editLabel"
	KindInvokeNodeTool = "invokeNodeTool"
	KindEditWidget     = "editWidget"
)

// Scope tells whether an input is addressed to a project or to one of its
// open representations.
type Scope int

const (
	ProjectScope Scope = iota
	RepresentationScope
)

// ProjectRef addresses a project.
type ProjectRef struct {
	ProjectID string `json:"projectId"`
}

func (r ProjectRef) Project() string { return r.ProjectID }

// RepresentationRef addresses an open representation of a project.
type RepresentationRef struct {
	ProjectID        string `json:"projectId"`
	RepresentationID string `json:"representationId"`
}

func (r RepresentationRef) Project() string        { return r.ProjectID }
func (r RepresentationRef) Representation() string { return r.RepresentationID }

type RenameObjectInput struct {
	ProjectRef
	ObjectID string `json:"objectId"`
	NewName  string `json:"newName"`
}

func (*RenameObjectInput) Kind() string { return KindRenameObject }

type CreateRootObjectInput struct {
	ProjectRef
	DocumentID string `json:"documentId"`
	ObjectKind string `json:"kind"`
	Label      string `json:"label"`
}

func (*CreateRootObjectInput) Kind() string { return KindCreateRootObject }

type CreateChildInput struct {
	ProjectRef
	ObjectID   string `json:"objectId"`
	ObjectKind string `json:"kind"`
	Label      string `json:"label"`
}

func (*CreateChildInput) Kind() string { return KindCreateChild }

type DeleteObjectInput struct {
	ProjectRef
	ObjectID string `json:"objectId"`
}

func (*DeleteObjectInput) Kind() string { return KindDeleteObject }

type CreateDocumentInput struct {
	ProjectRef
	Name string `json:"name"`
}

func (*CreateDocumentInput) Kind() string { return KindCreateDocument }

type RenameDocumentInput struct {
	ProjectRef
	DocumentID string `json:"documentId"`
	NewName    string `json:"newName"`
}

func (*RenameDocumentInput) Kind() string { return KindRenameDocument }

type DeleteDocumentInput struct {
	ProjectRef
	DocumentID string `json:"documentId"`
}

func (*DeleteDocumentInput) Kind() string { return KindDeleteDocument }

type RenameRepresentationInput struct {
	ProjectRef
	RepresentationID string `json:"representationId"`
	NewLabel         string `json:"newLabel"`
}

func (*RenameRepresentationInput) Kind() string { return KindRenameRepresentation }

// EditLabelInput renames the object behind a tree item or diagram node.
type EditLabelInput struct {
	RepresentationRef
	ElementID string `json:"elementId"`
	NewLabel  string `json:"newLabel"`
}

func (*EditLabelInput) Kind() string { return KindEditLabel }

// InvokeNodeToolInput creates a child of kind ToolID under the object behind
// ElementID, or under the diagram target when ElementID is empty.
type InvokeNodeToolInput struct {
	RepresentationRef
	ElementID string `json:"elementId"`
	ToolID    string `json:"toolId"`
}

func (*InvokeNodeToolInput) Kind() string { return KindInvokeNodeTool }

type EditWidgetInput struct {
	RepresentationRef
	WidgetID string `json:"widgetId"`
	Value    string `json:"value"`
}

func (*EditWidgetInput) Kind() string { return KindEditWidget }

var inputs = map[string]struct {
	scope    Scope
	newInput func() event.Input
}{
	KindRenameObject:         {ProjectScope, func() event.Input { return &RenameObjectInput{} }},
	KindCreateRootObject:     {ProjectScope, func() event.Input { return &CreateRootObjectInput{} }},
	KindCreateChild:          {ProjectScope, func() event.Input { return &CreateChildInput{} }},
	KindDeleteObject:         {ProjectScope, func() event.Input { return &DeleteObjectInput{} }},
	KindCreateDocument:       {ProjectScope, func() event.Input { return &CreateDocumentInput{} }},
	KindRenameDocument:       {ProjectScope, func() event.Input { return &RenameDocumentInput{} }},
	KindDeleteDocument:       {ProjectScope, func() event.Input { return &DeleteDocumentInput{} }},
	KindRenameRepresentation: {ProjectScope, func() event.Input { return &RenameRepresentationInput{} }},
	KindEditLabel:            {RepresentationScope, func() event.Input { return &EditLabelInput{} }},
	KindInvokeNodeTool:       {RepresentationScope, func() event.Input { return &InvokeNodeToolInput{} }},
	KindEditWidget:           {RepresentationScope, func() event.Input { return &EditWidgetInput{} }},
}

// Known reports whether kind names a mutation input.
func Known(kind string) bool {
	_, ok := inputs[kind]
	return ok
}

// Decode builds the input named kind from its JSON encoding. The project id
// is mandatory, and so is the representation id for representation inputs.
func Decode(kind string, data []byte) (event.Input, Scope, error) {
	entry, ok := inputs[kind]
	if !ok {
		return nil, 0, fmt.Errorf("%w: unknown input kind %q", event.ErrUnsupportedInput, kind)
	}
	input := entry.newInput()
	if len(data) > 0 {
		if err := json.Unmarshal(data, input); err != nil {
			return nil, 0, fmt.Errorf("decoding %s input: %w", kind, err)
		}
	}

	if p, ok := input.(interface{ Project() string }); ok && strings.TrimSpace(p.Project()) == "" {
		return nil, 0, fmt.Errorf("%s input: projectId is required", kind)
	}
	if r, ok := input.(interface{ Representation() string }); ok && strings.TrimSpace(r.Representation()) == "" {
		return nil, 0, fmt.Errorf("%s input: representationId is required", kind)
	}
	return input, entry.scope, nil
}
