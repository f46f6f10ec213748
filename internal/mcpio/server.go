// Package mcpio exposes a platformio.PlatformIO as an MCP (Model Context
// Protocol) tool server, so an MCP-speaking agent can introspect and
// drive a live signal/control federation the way a human operator would
// through geopmread/geopmwrite, without shelling out to either binary.
//
// This repurposes the teacher's internal/mcp (mark3labs/mcp-go server +
// typed tool handlers over a fixed JSON result shape) for a completely
// different tool vocabulary: list_signals, list_controls, read_signal,
// push_signal, sample, and read_batch instead of sysdiag collection
// tools.
package mcpio

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/geopm/geopmd/internal/platformio"
)

// Server wraps the MCP server instance bound to one live PlatformIO.
type Server struct {
	mcpServer *server.MCPServer
	pio       *platformio.PlatformIO

	// pushedSignals maps an integer handle (returned by push_signal) to
	// the federation Handle it resolved to, so a later sample call can
	// be addressed by the small integer an MCP client actually holds.
	pushedSignals []platformio.Handle
}

// NewServer creates an MCP server exposing pio's signal/control
// namespace under name "geopmd".
func NewServer(pio *platformio.PlatformIO, version string) *Server {
	s := &Server{pio: pio}
	mcpServer := server.NewMCPServer("geopmd", version, server.WithLogging())
	s.registerTools(mcpServer)
	s.mcpServer = mcpServer
	return s
}

// Start runs the server in stdio mode (blocking), the same transport the
// teacher's Server.Start uses.
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("list_signals",
		mcp.WithDescription("List every signal name known to the federation layer, including PREFIX::NAME qualified duplicates."),
	), s.handleListSignals)

	mcpServer.AddTool(mcp.NewTool("list_controls",
		mcp.WithDescription("List every control name known to the federation layer, including PREFIX::NAME qualified duplicates."),
	), s.handleListControls)

	mcpServer.AddTool(mcp.NewTool("read_signal",
		mcp.WithDescription("Read a signal's current value directly from its owning backend, bypassing batch state."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Signal name, e.g. CPU_FREQUENCY_STATUS or MSR::PKG_ENERGY_STATUS:ENERGY")),
		mcp.WithString("domain", mcp.Description("Domain to read at: board, package, core, cpu, memory, gpu, gpu_chip, nic (default board)"), mcp.DefaultString("board")),
		mcp.WithNumber("index", mcp.Description("Domain index (default 0)")),
	), s.handleReadSignal)

	mcpServer.AddTool(mcp.NewTool("push_signal",
		mcp.WithDescription("Register interest in a signal at (domain, index) for the batched read/sample path; returns a handle for use with sample."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Signal name")),
		mcp.WithString("domain", mcp.Description("Domain to push at (default board)"), mcp.DefaultString("board")),
		mcp.WithNumber("index", mcp.Description("Domain index (default 0)")),
	), s.handlePushSignal)

	mcpServer.AddTool(mcp.NewTool("sample",
		mcp.WithDescription("Return the most recently read_batch value for a handle returned by push_signal. Never blocks or issues I/O."),
		mcp.WithNumber("handle", mcp.Required(), mcp.Description("Handle returned by push_signal")),
	), s.handleSample)

	mcpServer.AddTool(mcp.NewTool("read_batch",
		mcp.WithDescription("Issue one read_batch across every registered backend, refreshing every pushed signal's sampled value."),
	), s.handleReadBatch)
}
