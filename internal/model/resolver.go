package model

// ObjectResolver finds objects in a model. It is accepted by handlers,
// renderers and the query router.
type ObjectResolver interface {
	Resolve(m *Model, objectID string) (*Object, bool)
}

var _ ObjectResolver = Resolver{}

// Resolver looks objects up by id. It is the default object resolver used by
// handlers and renderers.
type Resolver struct{}

// Resolve returns the object with the given id, searching every document.
func (Resolver) Resolve(m *Model, objectID string) (*Object, bool) {
	if m == nil || objectID == "" {
		return nil, false
	}
	return m.Object(objectID)
}
