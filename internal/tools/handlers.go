package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTools returns the browser tool set. Every tool except
// browser_wait is a one-line pass-through: the tool name doubles as the
// wire message type, and the arguments ride along as the payload. The
// hard work happens in the extension.
func DefaultTools() []*Tool {
	return []*Tool{
		{
			Name:        "browser_navigate",
			Description: "Navigate the current tab to a URL",
			InputSchema: &Schema{
				Type: "object",
				Properties: map[string]Property{
					"url": {Type: "string", Description: "The URL to navigate to"},
				},
				Required: []string{"url"},
			},
			Handler: passThrough("browser_navigate"),
		},
		{
			Name:        "browser_go_back",
			Description: "Go back to the previous page",
			InputSchema: emptySchema(),
			Handler:     passThrough("browser_go_back"),
		},
		{
			Name:        "browser_go_forward",
			Description: "Go forward to the next page",
			InputSchema: emptySchema(),
			Handler:     passThrough("browser_go_forward"),
		},
		{
			Name:        "browser_snapshot",
			Description: "Capture an accessibility snapshot of the current page. Use this to find element references for other tools.",
			InputSchema: emptySchema(),
			Handler:     passThrough("browser_snapshot"),
		},
		{
			Name:        "browser_click",
			Description: "Click an element on the page",
			InputSchema: elementSchema(nil, nil),
			Handler:     passThrough("browser_click"),
		},
		{
			Name:        "browser_hover",
			Description: "Hover over an element on the page",
			InputSchema: elementSchema(nil, nil),
			Handler:     passThrough("browser_hover"),
		},
		{
			Name:        "browser_drag",
			Description: "Drag one element onto another",
			InputSchema: &Schema{
				Type: "object",
				Properties: map[string]Property{
					"startElement": {Type: "string", Description: "Source element description"},
					"startRef":     {Type: "string", Description: "Source element reference from the page snapshot"},
					"endElement":   {Type: "string", Description: "Target element description"},
					"endRef":       {Type: "string", Description: "Target element reference from the page snapshot"},
				},
				Required: []string{"startRef", "endRef"},
			},
			Handler: passThrough("browser_drag"),
		},
		{
			Name:        "browser_type",
			Description: "Type text into an editable element",
			InputSchema: elementSchema(
				map[string]Property{
					"text":   {Type: "string", Description: "The text to type"},
					"submit": {Type: "boolean", Description: "Press Enter after typing"},
				},
				[]string{"text"},
			),
			Handler: passThrough("browser_type"),
		},
		{
			Name:        "browser_select_option",
			Description: "Select one or more options in a dropdown",
			InputSchema: elementSchema(
				map[string]Property{
					"values": {Type: "array", Description: "Values of the options to select"},
				},
				[]string{"values"},
			),
			Handler: passThrough("browser_select_option"),
		},
		{
			Name:        "browser_press_key",
			Description: "Press a keyboard key",
			InputSchema: &Schema{
				Type: "object",
				Properties: map[string]Property{
					"key": {Type: "string", Description: "Key name, e.g. Enter, ArrowDown, a"},
				},
				Required: []string{"key"},
			},
			Handler: passThrough("browser_press_key"),
		},
		{
			Name:        "browser_screenshot",
			Description: "Take a screenshot of the current page",
			InputSchema: emptySchema(),
			Handler:     screenshotHandler,
		},
		{
			Name:        "browser_get_console_logs",
			Description: "Get the console logs of the current page",
			InputSchema: emptySchema(),
			Handler:     passThrough("browser_get_console_logs"),
		},
		{
			Name:        "browser_wait",
			Description: "Wait for a number of seconds",
			InputSchema: &Schema{
				Type: "object",
				Properties: map[string]Property{
					"time": {Type: "number", Description: "Seconds to wait"},
				},
				Required: []string{"time"},
			},
			Handler: waitHandler,
		},
	}
}

// passThrough builds a handler that forwards its arguments to the
// extension under the given message type and renders the reply.
func passThrough(messageType string) HandlerFunc {
	return func(ctx context.Context, conn Caller, args map[string]any) (*Result, error) {
		raw, err := conn.Call(ctx, messageType, args)
		if err != nil {
			return nil, err
		}
		return renderReply(raw), nil
	}
}

// screenshotHandler expects base64 PNG data back from the extension.
func screenshotHandler(ctx context.Context, conn Caller, args map[string]any) (*Result, error) {
	raw, err := conn.Call(ctx, "browser_screenshot", args)
	if err != nil {
		return nil, err
	}
	var data string
	if err := json.Unmarshal(raw, &data); err != nil || data == "" {
		return nil, fmt.Errorf("extension returned no screenshot data")
	}
	return ImageResult(data, "image/png"), nil
}

// waitHandler sleeps locally; the socket is never involved.
func waitHandler(ctx context.Context, _ Caller, args map[string]any) (*Result, error) {
	seconds, ok := args["time"].(float64)
	if !ok {
		return nil, fmt.Errorf("time must be a number of seconds")
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return TextResult(fmt.Sprintf("Waited for %v seconds", seconds)), nil
}

// renderReply turns an extension reply into a text result: bare
// strings verbatim, anything else as indented JSON, and an empty reply
// as a simple acknowledgment.
func renderReply(raw json.RawMessage) *Result {
	if len(raw) == 0 || string(raw) == "null" {
		return TextResult("ok")
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return TextResult(text)
	}
	var pretty any
	if err := json.Unmarshal(raw, &pretty); err == nil {
		if data, err := json.MarshalIndent(pretty, "", "  "); err == nil {
			return TextResult(string(data))
		}
	}
	return TextResult(string(raw))
}

func emptySchema() *Schema {
	return &Schema{Type: "object", Properties: map[string]Property{}}
}

// elementSchema builds the shared element/ref schema with optional
// extra properties and extra required fields on top of "ref".
func elementSchema(extra map[string]Property, required []string) *Schema {
	properties := map[string]Property{
		"element": {Type: "string", Description: "Human-readable element description"},
		"ref":     {Type: "string", Description: "Exact element reference from the page snapshot"},
	}
	for name, prop := range extra {
		properties[name] = prop
	}
	return &Schema{
		Type:       "object",
		Properties: properties,
		Required:   append([]string{"ref"}, required...),
	}
}
