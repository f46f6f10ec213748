package mcpio

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/geopm/geopmd/internal/topo"
)

func (s *Server) handleListSignals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := s.pio.SignalNames()
	sort.Strings(names)
	return jsonResult(names)
}

func (s *Server) handleListControls(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := s.pio.ControlNames()
	sort.Strings(names)
	return jsonResult(names)
}

func (s *Server) handleReadSignal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	name := stringArg(args, "name", "")
	if name == "" {
		return errResult("name is required"), nil
	}
	domain, err := topo.NameToDomain(stringArg(args, "domain", "board"))
	if err != nil {
		return errResult(fmt.Sprintf("invalid domain: %v", err)), nil
	}
	idx := intArg(args, "index", 0)

	v, err := s.pio.ReadSignal(name, domain, idx)
	if err != nil {
		return errResult(fmt.Sprintf("read_signal failed: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"name": name, "value": v})
}

func (s *Server) handlePushSignal(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	name := stringArg(args, "name", "")
	if name == "" {
		return errResult("name is required"), nil
	}
	domain, err := topo.NameToDomain(stringArg(args, "domain", "board"))
	if err != nil {
		return errResult(fmt.Sprintf("invalid domain: %v", err)), nil
	}
	idx := intArg(args, "index", 0)

	h, err := s.pio.PushSignal(name, domain, idx)
	if err != nil {
		return errResult(fmt.Sprintf("push_signal failed: %v", err)), nil
	}

	handle := len(s.pushedSignals)
	s.pushedSignals = append(s.pushedSignals, h)
	return jsonResult(map[string]interface{}{"handle": handle})
}

func (s *Server) handleSample(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	handle := intArg(args, "handle", -1)
	if handle < 0 || handle >= len(s.pushedSignals) {
		return errResult("handle is required and must come from a prior push_signal call"), nil
	}

	v, err := s.pio.Sample(s.pushedSignals[handle])
	if err != nil {
		return errResult(fmt.Sprintf("sample failed: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"value": v})
}

func (s *Server) handleReadBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.pio.ReadBatch(); err != nil {
		return errResult(fmt.Sprintf("read_batch failed: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{"ok": true})
}

// getArgs safely extracts the arguments map from a CallToolRequest.
// Returns an empty map if Arguments is nil or not a map.
func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

// stringArg extracts a string argument with a default value.
func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

// intArg extracts a numeric argument; the MCP JSON transport decodes
// all numbers as float64.
func intArg(args map[string]interface{}, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	f, ok := val.(float64)
	if !ok {
		return defaultVal
	}
	return int(f)
}

// jsonResult marshals v and wraps it as a successful MCP tool result.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(data)), nil
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

// errResult creates an MCP tool error result (IsError=true). This is
// returned as a tool-level error, not a transport-level JSON-RPC error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
	}
}
