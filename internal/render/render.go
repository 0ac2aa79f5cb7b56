// Package render computes representation snapshots from a model.
//
// Layout is deliberately naive: diagram nodes are placed on a fixed grid in
// containment order. A layout engine can replace Renderer as long as it
// returns complete snapshots.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/modelsync/collab/internal/model"
	"github.com/modelsync/collab/internal/representation"
)

var (
	ErrTargetNotFound  = errors.New("target object not found")
	ErrUnsupportedKind = errors.New("unsupported representation kind")
)

const (
	explorerLabel = "Explorer"

	nodeWidth   = 150.0
	nodeHeight  = 70.0
	gridGap     = 40.0
	gridColumns = 4

	WidgetLabel    = "label"
	propertyPrefix = "property:"
)

// Renderer renders tree, diagram and form representations.
type Renderer struct {
	resolver model.ObjectResolver
}

// New creates a renderer. A nil resolver uses model.Resolver.
func New(resolver model.ObjectResolver) *Renderer {
	if resolver == nil {
		resolver = model.Resolver{}
	}
	return &Renderer{resolver: resolver}
}

// Render builds a complete snapshot for cfg. The returned value has Version 0;
// the owning processor stamps versions.
func (r *Renderer) Render(ctx context.Context, m *model.Model, cfg representation.Configuration) (*representation.Representation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg = cfg.Normalize()

	var target *model.Object
	if cfg.TargetObjectID != "" {
		o, ok := r.resolver.Resolve(m, cfg.TargetObjectID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, cfg.TargetObjectID)
		}
		target = o
	}

	var content any
	switch cfg.Kind {
	case representation.KindTree:
		content = renderTree(m, target, cfg.Expanded)
	case representation.KindDiagram:
		if target == nil {
			return nil, fmt.Errorf("%w: diagram requires a target object", ErrTargetNotFound)
		}
		content = renderDiagram(target)
	case representation.KindForm:
		if target == nil {
			return nil, fmt.Errorf("%w: form requires a target object", ErrTargetNotFound)
		}
		content = renderForm(target)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, cfg.Kind)
	}

	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding %s content: %w", cfg.Kind, err)
	}

	id := cfg.ID()
	return &representation.Representation{
		ID:             id,
		Kind:           cfg.Kind,
		Label:          label(m, id, target),
		TargetObjectID: cfg.TargetObjectID,
		DescriptionID:  cfg.DescriptionID,
		Content:        data,
	}, nil
}

func label(m *model.Model, id string, target *model.Object) string {
	if l, ok := m.RepresentationLabel(id); ok {
		return l
	}
	if target != nil {
		return target.Label
	}
	return explorerLabel
}

func renderTree(m *model.Model, target *model.Object, expanded []string) []*representation.TreeItem {
	isExpanded := make(map[string]bool, len(expanded))
	for _, id := range expanded {
		isExpanded[id] = true
	}

	if target != nil {
		return []*representation.TreeItem{treeItem(target, isExpanded)}
	}

	items := make([]*representation.TreeItem, 0, len(m.Documents))
	for _, d := range m.Documents {
		item := &representation.TreeItem{
			ID:          d.ID,
			Kind:        "Document",
			Label:       d.Name,
			HasChildren: len(d.Objects) > 0,
			Expanded:    isExpanded[d.ID],
		}
		if item.Expanded {
			for _, o := range d.Objects {
				item.Children = append(item.Children, treeItem(o, isExpanded))
			}
		}
		items = append(items, item)
	}
	return items
}

func treeItem(o *model.Object, isExpanded map[string]bool) *representation.TreeItem {
	item := &representation.TreeItem{
		ID:          o.ID,
		Kind:        o.Kind,
		Label:       o.Label,
		HasChildren: len(o.Children) > 0,
		Expanded:    isExpanded[o.ID],
	}
	if item.Expanded {
		for _, c := range o.Children {
			item.Children = append(item.Children, treeItem(c, isExpanded))
		}
	}
	return item
}

func renderDiagram(target *model.Object) representation.Diagram {
	diagram := representation.Diagram{Nodes: []representation.Node{}}
	type queued struct {
		obj    *model.Object
		parent string
	}
	queue := make([]queued, 0, len(target.Children))
	for _, c := range target.Children {
		queue = append(queue, queued{obj: c})
	}
	for i := 0; i < len(queue); i++ {
		q := queue[i]
		col := i % gridColumns
		row := i / gridColumns
		nodeID := "node:" + q.obj.ID
		diagram.Nodes = append(diagram.Nodes, representation.Node{
			ID:             nodeID,
			TargetObjectID: q.obj.ID,
			Kind:           q.obj.Kind,
			Label:          q.obj.Label,
			X:              float64(col) * (nodeWidth + gridGap),
			Y:              float64(row) * (nodeHeight + gridGap),
			Width:          nodeWidth,
			Height:         nodeHeight,
		})
		if q.parent != "" {
			diagram.Edges = append(diagram.Edges, representation.Edge{
				ID:       "edge:" + q.parent + ":" + nodeID,
				SourceID: q.parent,
				TargetID: nodeID,
			})
		}
		for _, c := range q.obj.Children {
			queue = append(queue, queued{obj: c, parent: nodeID})
		}
	}
	return diagram
}

func renderForm(target *model.Object) representation.Form {
	form := representation.Form{Widgets: []representation.Widget{
		{ID: WidgetLabel, Type: "textfield", Label: "Label", Value: target.Label},
	}}
	names := make([]string, 0, len(target.Properties))
	for name := range target.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := target.Properties[name]
		widgetType := "textfield"
		if value == "true" || value == "false" {
			widgetType = "checkbox"
		}
		form.Widgets = append(form.Widgets, representation.Widget{
			ID:    PropertyWidgetID(name),
			Type:  widgetType,
			Label: name,
			Value: value,
		})
	}
	return form
}

// PropertyWidgetID returns the form widget id editing the named property.
func PropertyWidgetID(name string) string {
	return propertyPrefix + name
}

// PropertyFromWidgetID returns the property edited by a form widget.
func PropertyFromWidgetID(widgetID string) (string, bool) {
	if !strings.HasPrefix(widgetID, propertyPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(widgetID, propertyPrefix)
	return name, name != ""
}

// ObjectFromElementID maps a tree item or diagram node id back to its object.
func ObjectFromElementID(elementID string) string {
	return strings.TrimPrefix(elementID, "node:")
}
