package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// handleCreateSession creates a new session and kicks off its first cycle
func (ms *MCPServer) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := request.RequireString("input")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxIterations := request.GetInt("max_iterations", 0)
	maxInterventions := request.GetInt("max_interventions", 0)

	ms.auditLogger.LogToolCall(ctx, &AuditEntry{
		ToolName: toolCreateSession,
		Arguments: map[string]interface{}{
			"max_iterations":    maxIterations,
			"max_interventions": maxInterventions,
		},
	})

	session, err := ms.svc.CreateSession(ctx, input, maxIterations, maxInterventions)
	if err != nil {
		ms.auditLogger.LogToolResult(ctx, &AuditEntry{
			ToolName: toolCreateSession,
			ErrorMsg: err.Error(),
		})
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create session: %v", err)), nil
	}

	ms.auditLogger.LogToolResult(ctx, &AuditEntry{
		SessionID: session.ID,
		ToolName:  toolCreateSession,
	})

	resp := sessionResponse(session, nil)
	respJSON, _ := json.Marshal(resp)
	return mcp.NewToolResultText(string(respJSON)), nil
}

// handleGetSession returns a session's current state including any
// pending clarifying question
func (ms *MCPServer) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	session, err := ms.svc.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Session not found: %s", sessionID)), nil
	}

	question, err := ms.svc.PendingQuestion(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load pending question: %v", err)), nil
	}

	resp := sessionResponse(session, question)
	respJSON, _ := json.Marshal(resp)
	return mcp.NewToolResultText(string(respJSON)), nil
}

// handleListSessions returns all known sessions
func (ms *MCPServer) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := ms.svc.ListSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list sessions: %v", err)), nil
	}

	resp := SessionListResponse{
		Sessions: make([]SessionResponse, 0, len(sessions)),
		Count:    len(sessions),
	}
	for _, session := range sessions {
		resp.Sessions = append(resp.Sessions, sessionResponse(session, nil))
	}

	respJSON, _ := json.Marshal(resp)
	return mcp.NewToolResultText(string(respJSON)), nil
}

// handleCancelSession cancels a session
func (ms *MCPServer) handleCancelSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ms.auditLogger.LogToolCall(ctx, &AuditEntry{
		SessionID: sessionID,
		ToolName:  toolCancelSession,
	})

	session, err := ms.svc.CancelSession(ctx, sessionID)
	if err != nil {
		ms.auditLogger.LogToolResult(ctx, &AuditEntry{
			SessionID: sessionID,
			ToolName:  toolCancelSession,
			ErrorMsg:  err.Error(),
		})
		return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel session: %v", err)), nil
	}

	ms.auditLogger.LogToolResult(ctx, &AuditEntry{
		SessionID: sessionID,
		ToolName:  toolCancelSession,
	})

	resp := sessionResponse(session, nil)
	respJSON, _ := json.Marshal(resp)
	return mcp.NewToolResultText(string(respJSON)), nil
}
