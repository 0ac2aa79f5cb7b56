package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T) (*Model, *Document, *Object) {
	t.Helper()
	m := New("p1")
	d := m.AddDocument("doc")
	root, err := m.AddRootObject(d.ID, "Package", "root")
	require.NoError(t, err)
	return m, d, root
}

func TestModel_AddAndFind(t *testing.T) {
	m, _, root := newTestModel(t)

	child, err := m.AddChild(root.ID, "Class", "A")
	require.NoError(t, err)

	got, ok := m.Object(child.ID)
	require.True(t, ok)
	require.Equal(t, "A", got.Label)

	_, err = m.AddChild("missing", "Class", "B")
	require.True(t, errors.Is(err, ErrObjectNotFound))
}

func TestModel_RevisionIncrementsOnMutation(t *testing.T) {
	m, d, root := newTestModel(t)
	before := m.Revision

	require.NoError(t, m.SetLabel(root.ID, "renamed"))
	require.NoError(t, m.RenameDocument(d.ID, "doc2"))
	require.NoError(t, m.SetProperty(root.ID, "abstract", "true"))

	require.Equal(t, before+3, m.Revision)

	// Failed mutations leave the revision alone.
	require.Error(t, m.SetLabel("missing", "x"))
	require.Equal(t, before+3, m.Revision)
}

func TestModel_RemoveObjectNested(t *testing.T) {
	m, _, root := newTestModel(t)
	child, err := m.AddChild(root.ID, "Class", "A")
	require.NoError(t, err)
	grandchild, err := m.AddChild(child.ID, "Attribute", "a")
	require.NoError(t, err)

	require.NoError(t, m.RemoveObject(child.ID))

	_, ok := m.Object(grandchild.ID)
	require.False(t, ok, "descendants are removed with their parent")
	require.ErrorIs(t, m.RemoveObject(child.ID), ErrObjectNotFound)
}

func TestModel_RemoveDocument(t *testing.T) {
	m, d, root := newTestModel(t)

	require.NoError(t, m.RemoveDocument(d.ID))
	_, ok := m.Object(root.ID)
	require.False(t, ok)
	require.ErrorIs(t, m.RemoveDocument(d.ID), ErrDocumentNotFound)
}

func TestModel_CloneIsIndependent(t *testing.T) {
	m, _, root := newTestModel(t)
	require.NoError(t, m.SetProperty(root.ID, "k", "v"))
	m.SetRepresentationLabel("r1", "Diagram")

	c := m.Clone()
	require.NoError(t, m.SetLabel(root.ID, "changed"))
	require.NoError(t, m.SetProperty(root.ID, "k", "changed"))
	m.SetRepresentationLabel("r1", "changed")

	obj, ok := c.Object(root.ID)
	require.True(t, ok)
	require.Equal(t, "root", obj.Label)
	require.Equal(t, "v", obj.Properties["k"])
	label, _ := c.RepresentationLabel("r1")
	require.Equal(t, "Diagram", label)
}

func TestResolver(t *testing.T) {
	m, _, root := newTestModel(t)
	var r Resolver

	got, ok := r.Resolve(m, root.ID)
	require.True(t, ok)
	require.Same(t, root, got)

	_, ok = r.Resolve(m, "")
	require.False(t, ok)
	_, ok = r.Resolve(nil, root.ID)
	require.False(t, ok)
}
