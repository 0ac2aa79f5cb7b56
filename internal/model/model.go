// Package model holds the editable, in-memory domain model of a project.
//
// A Model is not safe for concurrent writers. Every mutation happens under the
// owning project's event processor, which serializes access to it.
package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrObjectNotFound   = errors.New("object not found")
)

// Object is a node of a document's containment tree.
type Object struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Label      string            `json:"label"`
	Properties map[string]string `json:"properties,omitempty"`
	Children   []*Object         `json:"children,omitempty"`
}

// Document is a named root container of objects.
type Document struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Objects []*Object `json:"objects,omitempty"`
}

// Model is the editable state of one project.
type Model struct {
	ProjectID string      `json:"projectId"`
	Documents []*Document `json:"documents"`

	// RepresentationLabels holds labels given explicitly to representations,
	// keyed by representation id.
	RepresentationLabels map[string]string `json:"representationLabels,omitempty"`

	// Revision is incremented by every mutation.
	Revision uint64 `json:"revision"`
}

// New returns an empty model for the given project.
func New(projectID string) *Model {
	return &Model{
		ProjectID:            projectID,
		Documents:            []*Document{},
		RepresentationLabels: make(map[string]string),
	}
}

func (m *Model) touch() {
	m.Revision++
}

// Document returns the document with the given id.
func (m *Model) Document(id string) (*Document, bool) {
	for _, d := range m.Documents {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

// AddDocument creates an empty document.
func (m *Model) AddDocument(name string) *Document {
	d := &Document{ID: uuid.NewString(), Name: name}
	m.Documents = append(m.Documents, d)
	m.touch()
	return d
}

// RenameDocument changes the name of a document.
func (m *Model) RenameDocument(id, name string) error {
	d, ok := m.Document(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	d.Name = name
	m.touch()
	return nil
}

// RemoveDocument deletes a document and everything it contains.
func (m *Model) RemoveDocument(id string) error {
	for i, d := range m.Documents {
		if d.ID == id {
			m.Documents = append(m.Documents[:i], m.Documents[i+1:]...)
			m.touch()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
}

// AddRootObject creates an object at the top level of a document.
func (m *Model) AddRootObject(documentID, kind, label string) (*Object, error) {
	d, ok := m.Document(documentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	o := newObject(kind, label)
	d.Objects = append(d.Objects, o)
	m.touch()
	return o, nil
}

// AddChild creates an object contained by parentID.
func (m *Model) AddChild(parentID, kind, label string) (*Object, error) {
	parent, ok := m.Object(parentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, parentID)
	}
	o := newObject(kind, label)
	parent.Children = append(parent.Children, o)
	m.touch()
	return o, nil
}

// SetLabel renames an object.
func (m *Model) SetLabel(objectID, label string) error {
	o, ok := m.Object(objectID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, objectID)
	}
	o.Label = label
	m.touch()
	return nil
}

// SetProperty sets a string property on an object.
func (m *Model) SetProperty(objectID, name, value string) error {
	o, ok := m.Object(objectID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, objectID)
	}
	if o.Properties == nil {
		o.Properties = make(map[string]string)
	}
	o.Properties[name] = value
	m.touch()
	return nil
}

// RemoveObject deletes an object and its descendants.
func (m *Model) RemoveObject(objectID string) error {
	for _, d := range m.Documents {
		if removed := removeFrom(&d.Objects, objectID); removed {
			m.touch()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrObjectNotFound, objectID)
}

func removeFrom(objects *[]*Object, id string) bool {
	for i, o := range *objects {
		if o.ID == id {
			*objects = append((*objects)[:i], (*objects)[i+1:]...)
			return true
		}
		if removeFrom(&o.Children, id) {
			return true
		}
	}
	return false
}

// Object finds an object anywhere in the model.
func (m *Model) Object(id string) (*Object, bool) {
	for _, d := range m.Documents {
		if o := find(d.Objects, id); o != nil {
			return o, true
		}
	}
	return nil, false
}

func find(objects []*Object, id string) *Object {
	for _, o := range objects {
		if o.ID == id {
			return o
		}
		if found := find(o.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// SetRepresentationLabel records an explicit label for a representation.
func (m *Model) SetRepresentationLabel(representationID, label string) {
	if m.RepresentationLabels == nil {
		m.RepresentationLabels = make(map[string]string)
	}
	m.RepresentationLabels[representationID] = label
	m.touch()
}

// RepresentationLabel returns the explicit label of a representation, if any.
func (m *Model) RepresentationLabel(representationID string) (string, bool) {
	label, ok := m.RepresentationLabels[representationID]
	return label, ok
}

func newObject(kind, label string) *Object {
	return &Object{ID: uuid.NewString(), Kind: kind, Label: label}
}

// Clone returns a deep copy of the model so it can be handed to a store
// while the original keeps being edited.
func (m *Model) Clone() *Model {
	c := &Model{
		ProjectID:            m.ProjectID,
		Documents:            make([]*Document, len(m.Documents)),
		RepresentationLabels: make(map[string]string, len(m.RepresentationLabels)),
		Revision:             m.Revision,
	}
	for i, d := range m.Documents {
		c.Documents[i] = d.Clone()
	}
	for k, v := range m.RepresentationLabels {
		c.RepresentationLabels[k] = v
	}
	return c
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := *d
	c.Objects = cloneObjects(d.Objects)
	return &c
}

// Clone returns a deep copy of the object and its descendants.
func (o *Object) Clone() *Object {
	c := *o
	if o.Properties != nil {
		c.Properties = make(map[string]string, len(o.Properties))
		for k, v := range o.Properties {
			c.Properties[k] = v
		}
	}
	c.Children = cloneObjects(o.Children)
	return &c
}

func cloneObjects(objects []*Object) []*Object {
	if objects == nil {
		return nil
	}
	out := make([]*Object, len(objects))
	for i, o := range objects {
		out[i] = o.Clone()
	}
	return out
}
