// Package representation defines the configuration that identifies a live
// view of a model and the immutable snapshots rendered for it.
package representation

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Kinds of representations.
const (
	KindTree    = "tree"
	KindDiagram = "diagram"
	KindForm    = "form"
)

// namespace scopes configuration ids so they never collide with object ids.
var namespace = uuid.MustParse("6f1e2d3c-4b5a-4978-8a6b-5c4d3e2f1a0b")

// Configuration identifies a representation. Two configurations that only
// differ in the order or duplication of expanded ids are equal.
type Configuration struct {
	ProjectID      string   `json:"projectId"`
	Kind           string   `json:"kind"`
	TargetObjectID string   `json:"targetObjectId,omitempty"`
	DescriptionID  string   `json:"descriptionId,omitempty"`
	Expanded       []string `json:"expanded,omitempty"`
}

// Normalize returns the canonical form of the configuration.
func (c Configuration) Normalize() Configuration {
	n := c
	n.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
	if len(c.Expanded) == 0 {
		n.Expanded = nil
		return n
	}
	seen := make(map[string]bool, len(c.Expanded))
	expanded := make([]string, 0, len(c.Expanded))
	for _, id := range c.Expanded {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		expanded = append(expanded, id)
	}
	sort.Strings(expanded)
	n.Expanded = expanded
	return n
}

// ID derives a stable name-based UUID from the canonical configuration.
func (c Configuration) ID() string {
	n := c.Normalize()
	var b strings.Builder
	b.WriteString(n.ProjectID)
	b.WriteByte(0)
	b.WriteString(n.Kind)
	b.WriteByte(0)
	b.WriteString(n.TargetObjectID)
	b.WriteByte(0)
	b.WriteString(n.DescriptionID)
	for _, id := range n.Expanded {
		b.WriteByte(0)
		b.WriteString(id)
	}
	return uuid.NewMD5(namespace, []byte(b.String())).String()
}

// Representation is an immutable snapshot. A refresh produces a new value
// with a higher Version; snapshots are never edited in place.
type Representation struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	Label          string          `json:"label"`
	TargetObjectID string          `json:"targetObjectId,omitempty"`
	DescriptionID  string          `json:"descriptionId,omitempty"`
	Version        uint64          `json:"version"`
	Content        json.RawMessage `json:"content"`
}

// TreeItem is one node of a tree representation.
type TreeItem struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"`
	Label       string      `json:"label"`
	HasChildren bool        `json:"hasChildren"`
	Expanded    bool        `json:"expanded"`
	Children    []*TreeItem `json:"children,omitempty"`
}

// Diagram is the content of a diagram representation.
type Diagram struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges,omitempty"`
}

// Node is a diagram element bound to a model object.
type Node struct {
	ID             string  `json:"id"`
	TargetObjectID string  `json:"targetObjectId"`
	Kind           string  `json:"kind"`
	Label          string  `json:"label"`
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Width          float64 `json:"width"`
	Height         float64 `json:"height"`
}

// Edge links two diagram nodes.
type Edge struct {
	ID       string `json:"id"`
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

// Form is the content of a form representation.
type Form struct {
	Widgets []Widget `json:"widgets"`
}

// Widget is one editable field of a form.
type Widget struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Label string `json:"label"`
	Value string `json:"value"`
}
