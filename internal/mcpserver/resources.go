package mcpserver

import (
	"context"
	"fmt"
)

// Resource is one readable resource exposed over the MCP surface.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	Read        func(ctx context.Context) (string, error)
}

// ResourceRegistry is the immutable URI→resource table, built at
// startup alongside the tool registry.
type ResourceRegistry struct {
	resources map[string]*Resource
	order     []string
}

// NewResourceRegistry builds a registry from the given resources.
func NewResourceRegistry(resources ...*Resource) (*ResourceRegistry, error) {
	r := &ResourceRegistry{resources: make(map[string]*Resource, len(resources))}
	for _, resource := range resources {
		if resource.URI == "" {
			return nil, fmt.Errorf("resource URI cannot be empty")
		}
		if _, exists := r.resources[resource.URI]; exists {
			return nil, fmt.Errorf("resource already registered: %s", resource.URI)
		}
		r.resources[resource.URI] = resource
		r.order = append(r.order, resource.URI)
	}
	return r, nil
}

// Get looks up a resource by URI.
func (r *ResourceRegistry) Get(uri string) (*Resource, bool) {
	resource, ok := r.resources[uri]
	return resource, ok
}

// All returns the resources in registration order.
func (r *ResourceRegistry) All() []*Resource {
	out := make([]*Resource, 0, len(r.order))
	for _, uri := range r.order {
		out = append(out, r.resources[uri])
	}
	return out
}

// Count returns the number of registered resources.
func (r *ResourceRegistry) Count() int { return len(r.order) }
