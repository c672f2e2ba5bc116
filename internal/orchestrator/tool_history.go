package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// handleGetHistory returns the session's dialogue log from a sequence
// number onward
func (ms *MCPServer) handleGetHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fromSeq := request.GetInt("from_sequence", 0)
	if fromSeq < 0 {
		return mcp.NewToolResultError("from_sequence must not be negative"), nil
	}

	entries, err := ms.svc.History(ctx, sessionID, uint64(fromSeq))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load history: %v", err)), nil
	}

	resp := HistoryResponse{
		SessionID: sessionID,
		Entries:   entries,
		Count:     len(entries),
	}
	respJSON, _ := json.Marshal(resp)
	return mcp.NewToolResultText(string(respJSON)), nil
}

// handleWatchSession starts streaming the session's events to the
// calling client
func (ms *MCPServer) handleWatchSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fromSeq := request.GetInt("from_sequence", 0)
	if fromSeq < 0 {
		return mcp.NewToolResultError("from_sequence must not be negative"), nil
	}

	// Verify the session exists before opening a stream for it
	if _, err := ms.svc.GetSession(ctx, sessionID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Session not found: %s", sessionID)), nil
	}

	clientID := ms.getClientID(ctx)
	if ms.streams.Get(clientID) == nil {
		return mcp.NewToolResultError("No notification stream for this client; connect over a transport that supports notifications"), nil
	}
	if err := ms.streamer.Watch(ctx, clientID, sessionID, uint64(fromSeq)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to watch session: %v", err)), nil
	}

	resp := WatchResponse{
		SessionID:    sessionID,
		ClientID:     clientID,
		FromSequence: uint64(fromSeq),
		Watching:     true,
	}
	respJSON, _ := json.Marshal(resp)
	return mcp.NewToolResultText(string(respJSON)), nil
}
