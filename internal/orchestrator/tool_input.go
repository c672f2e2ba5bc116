package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// handleSubmitUserInput routes supplementary input through the
// intervention gate
func (ms *MCPServer) handleSubmitUserInput(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ms.auditLogger.LogToolCall(ctx, &AuditEntry{
		SessionID: sessionID,
		ToolName:  toolSubmitUserInput,
	})

	session, err := ms.svc.SubmitUserInput(ctx, sessionID, text)
	if err != nil {
		ms.auditLogger.LogToolResult(ctx, &AuditEntry{
			SessionID: sessionID,
			ToolName:  toolSubmitUserInput,
			ErrorMsg:  err.Error(),
		})
		return mcp.NewToolResultError(fmt.Sprintf("Failed to submit input: %v", err)), nil
	}

	ms.auditLogger.LogToolResult(ctx, &AuditEntry{
		SessionID: sessionID,
		ToolName:  toolSubmitUserInput,
	})

	question, _ := ms.svc.PendingQuestion(ctx, sessionID)
	resp := sessionResponse(session, question)
	respJSON, _ := json.Marshal(resp)
	return mcp.NewToolResultText(string(respJSON)), nil
}

// handleAnswerQuestion answers the pending clarifying question
func (ms *MCPServer) handleAnswerQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	questionID, err := request.RequireString("question_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ms.auditLogger.LogToolCall(ctx, &AuditEntry{
		SessionID: sessionID,
		ToolName:  toolAnswerQuestion,
		Arguments: map[string]interface{}{
			"question_id": questionID,
		},
	})

	session, err := ms.svc.AnswerQuestion(ctx, sessionID, questionID, text)
	if err != nil {
		ms.auditLogger.LogToolResult(ctx, &AuditEntry{
			SessionID: sessionID,
			ToolName:  toolAnswerQuestion,
			ErrorMsg:  err.Error(),
		})
		return mcp.NewToolResultError(fmt.Sprintf("Failed to answer question: %v", err)), nil
	}

	ms.auditLogger.LogToolResult(ctx, &AuditEntry{
		SessionID: sessionID,
		ToolName:  toolAnswerQuestion,
	})

	resp := sessionResponse(session, nil)
	respJSON, _ := json.Marshal(resp)
	return mcp.NewToolResultText(string(respJSON)), nil
}

// handleRequestPause parks a running session so the user can add input
func (ms *MCPServer) handleRequestPause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ms.auditLogger.LogToolCall(ctx, &AuditEntry{
		SessionID: sessionID,
		ToolName:  toolRequestPause,
	})

	session, err := ms.svc.RequestPause(ctx, sessionID)
	if err != nil {
		ms.auditLogger.LogToolResult(ctx, &AuditEntry{
			SessionID: sessionID,
			ToolName:  toolRequestPause,
			ErrorMsg:  err.Error(),
		})
		return mcp.NewToolResultError(fmt.Sprintf("Failed to pause session: %v", err)), nil
	}

	ms.auditLogger.LogToolResult(ctx, &AuditEntry{
		SessionID: sessionID,
		ToolName:  toolRequestPause,
	})

	resp := sessionResponse(session, nil)
	respJSON, _ := json.Marshal(resp)
	return mcp.NewToolResultText(string(respJSON)), nil
}
