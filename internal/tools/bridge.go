package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// Bridge resolves tool names and executes handlers against the
// extension connection, converting every failure into a structured
// result. Nothing a handler does can crash the process through here.
type Bridge struct {
	registry *Registry
	conn     Caller
	log      *zap.Logger
}

// NewBridge wires a registry to the connection manager.
func NewBridge(registry *Registry, conn Caller, log *zap.Logger) *Bridge {
	return &Bridge{
		registry: registry,
		conn:     conn,
		log:      log.Named("tools"),
	}
}

// Registry exposes the underlying registration table.
func (b *Bridge) Registry() *Registry { return b.registry }

// Execute resolves name (exact registration first, then aliases) and
// runs the handler. Unknown names produce a structured not-found
// result listing known names — not a transport error. Handler panics
// and errors are captured into the same structured-failure shape.
func (b *Bridge) Execute(ctx context.Context, name string, args map[string]any) *Result {
	if name == ListToolsName {
		return b.listTools()
	}

	tool, ok := b.registry.Resolve(name)
	if !ok {
		notFound := &NotFoundError{Name: name, Known: b.registry.Names()}
		b.log.Warn("unknown tool requested", zap.String("tool", name))
		return ErrorResult(notFound.Error())
	}

	if tool.InputSchema != nil {
		if err := validateArgs(tool.InputSchema, args); err != nil {
			return ErrorResult((&HandlerError{Name: tool.Name, Err: err}).Error())
		}
	}

	result, err := b.invoke(ctx, tool, args)
	if err != nil {
		b.log.Warn("tool failed", zap.String("tool", tool.Name), zap.Error(err))
		return ErrorResult((&HandlerError{Name: tool.Name, Err: err}).Error())
	}
	return result
}

// invoke runs the handler with panic recovery: a panicking handler
// becomes an error result like any other handler failure.
func (b *Bridge) invoke(ctx context.Context, tool *Tool, args map[string]any) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return tool.Handler(ctx, b.conn, args)
}

// listTools serves the reserved meta-name: the full catalog as JSON,
// without touching the connection manager.
func (b *Bridge) listTools() *Result {
	type entry struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		InputSchema *Schema `json:"inputSchema,omitempty"`
	}
	entries := make([]entry, 0, b.registry.Count())
	for _, tool := range b.registry.All() {
		entries = append(entries, entry{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return ErrorResult(fmt.Sprintf("marshal tool catalog: %v", err))
	}
	return TextResult(string(data))
}

// validateArgs checks args against the tool's input schema.
func validateArgs(schema *Schema, args map[string]any) error {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return fmt.Errorf("validate arguments: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
	}
	return nil
}
