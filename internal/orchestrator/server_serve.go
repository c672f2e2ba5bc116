package orchestrator

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
)

// Serve runs the server over stdio and blocks until the client hangs
// up. Logs must already be routed to stderr: stdout carries the
// protocol.
func (ms *MCPServer) Serve(logger *slog.Logger) error {
	logger.Info("Serving over stdio")
	return server.ServeStdio(ms.server)
}

// ServeHTTP runs the server over SSE on addr, mounted under /mcp, and
// blocks until the listener fails.
func (ms *MCPServer) ServeHTTP(addr string, logger *slog.Logger) error {
	logger.Info("Serving over SSE",
		"addr", addr,
		"base_path", "/mcp",
	)
	sse := server.NewSSEServer(ms.server,
		server.WithBaseURL("http://"+addr),
		server.WithStaticBasePath("/mcp"),
	)
	return sse.Start(addr)
}
