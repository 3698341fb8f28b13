// Package tools defines the browser tool registrations and the bridge
// that resolves a tool name (plus aliases) to its handler, executes it
// against the extension connection, and normalizes the result shape.
package tools

import (
	"context"
	"encoding/json"

	"github.com/conradkoh/browsermcp/internal/extension"
)

// Caller is the slice of the connection manager a handler needs: check
// for a connection, issue one correlated call.
type Caller interface {
	HasConnection() bool
	Call(ctx context.Context, messageType string, payload any, opts ...extension.CallOption) (json.RawMessage, error)
}

// HandlerFunc executes one tool against the extension connection.
type HandlerFunc func(ctx context.Context, conn Caller, args map[string]any) (*Result, error)

// Property describes one parameter in a tool's input schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema is the JSON Schema for a tool's arguments.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Tool is one registration: immutable after registry construction.
type Tool struct {
	Name        string
	Description string
	InputSchema *Schema
	Handler     HandlerFunc
}

// ContentBlock is one piece of MCP tool output.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Result is the normalized MCP tool result. Failures are structured
// (IsError true) rather than thrown: a driving agent always gets a
// parseable response.
type Result struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// TextResult wraps text in a success result.
func TextResult(text string) *Result {
	return &Result{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ErrorResult wraps a message in a structured failure result.
func ErrorResult(message string) *Result {
	return &Result{
		Content: []ContentBlock{{Type: "text", Text: message}},
		IsError: true,
	}
}

// ImageResult wraps base64 image data in a success result.
func ImageResult(data, mimeType string) *Result {
	return &Result{Content: []ContentBlock{{Type: "image", Data: data, MimeType: mimeType}}}
}
