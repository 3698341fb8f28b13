package tools

import (
	"fmt"
	"sort"
	"strings"
)

// toolPrefix is the fixed prefix every browser tool name carries.
// Historical MCP clients have mangled this prefix in two documented
// ways, so each registration answers under four spellings total.
const toolPrefix = "browser_"

// ListToolsName is the reserved meta-name that lists all registrations
// without touching the extension connection.
const ListToolsName = "list_tools"

// Registry is the immutable name→tool table, built once at startup.
// Alias resolution is a pure function over the table: aliases never
// shadow an explicit registration.
type Registry struct {
	tools   map[string]*Tool
	order   []string
	aliases map[string]string
}

// NewRegistry builds a registry from the given tools, deriving aliases
// for every prefixed name.
func NewRegistry(toolList ...*Tool) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]*Tool, len(toolList)),
		aliases: make(map[string]string),
	}

	for _, tool := range toolList {
		if tool.Name == "" {
			return nil, ErrToolNameEmpty
		}
		if tool.Handler == nil {
			return nil, fmt.Errorf("%w: %s", ErrToolHandlerNil, tool.Name)
		}
		if _, exists := r.tools[tool.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
		}
		r.tools[tool.Name] = tool
		r.order = append(r.order, tool.Name)
	}

	// Aliases are derived after all explicit registrations so that a
	// collision always resolves in favor of the explicit name.
	for _, name := range r.order {
		for _, alias := range aliasesFor(name) {
			if _, taken := r.tools[alias]; taken {
				continue
			}
			if _, taken := r.aliases[alias]; taken {
				continue
			}
			r.aliases[alias] = name
		}
	}

	return r, nil
}

// aliasesFor returns the alternate spellings a prefixed name answers
// under: the stripped name and two historical double-prefixed forms.
func aliasesFor(name string) []string {
	if !strings.HasPrefix(name, toolPrefix) {
		return nil
	}
	stripped := strings.TrimPrefix(name, toolPrefix)
	return []string{
		stripped,
		toolPrefix + name,    // browser_browser_navigate
		"browsermcp_" + name, // browsermcp_browser_navigate
	}
}

// Resolve looks up a tool by exact name first, then by alias.
func (r *Registry) Resolve(name string) (*Tool, bool) {
	if tool, ok := r.tools[name]; ok {
		return tool, true
	}
	if canonical, ok := r.aliases[name]; ok {
		return r.tools[canonical], true
	}
	return nil, false
}

// Names returns the registered (canonical) names, sorted.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// All returns the tools in registration order.
func (r *Registry) All() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int { return len(r.order) }
