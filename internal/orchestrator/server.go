package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	// Tool names
	toolCreateSession   = "create_session"
	toolGetSession      = "get_session"
	toolListSessions    = "list_sessions"
	toolGetHistory      = "get_history"
	toolSubmitUserInput = "submit_user_input"
	toolAnswerQuestion  = "answer_question"
	toolRequestPause    = "request_pause"
	toolCancelSession   = "cancel_session"
	toolWatchSession    = "watch_session"
)

// MCPServer exposes the session control surface as MCP tools
type MCPServer struct {
	server      *server.MCPServer
	svc         *Service
	auditLogger *AuditLogger
	streams     *StreamManager
	streamer    *EventStreamer
}

// Config holds configuration for the MCP server
type Config struct {
	Name    string
	Version string
}

// NewMCPServer creates and configures a new MCP server. Every connected
// MCP session is registered as an observer client so watch_session can
// push event notifications back over its transport; disconnecting tears
// the watches down.
func NewMCPServer(cfg Config, svc *Service, audit *AuditLogger, streams *StreamManager, streamer *EventStreamer) *MCPServer {
	ms := &MCPServer{
		svc:         svc,
		auditLogger: audit,
		streams:     streams,
		streamer:    streamer,
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		ms.streams.Register(session.SessionID(), &sessionNotificationSender{
			srv:       ms.server,
			sessionID: session.SessionID(),
		})
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		ms.streamer.Unwatch(session.SessionID())
		ms.streams.Unregister(session.SessionID())
	})

	ms.server = server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)

	ms.registerTools()

	return ms
}

// sessionNotificationSender pushes notifications to one connected MCP
// client through the server's session registry
type sessionNotificationSender struct {
	srv       *server.MCPServer
	sessionID string
}

// SendNotification reshapes the notification params into the flat map
// the MCP notification envelope expects and delivers it to the client
func (s *sessionNotificationSender) SendNotification(notification map[string]interface{}) error {
	method, _ := notification["method"].(string)
	params := make(map[string]interface{})
	if raw, ok := notification["params"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return err
		}
	}
	return s.srv.SendNotificationToSpecificClient(s.sessionID, method, params)
}

// registerTools registers all MCP tools with handlers
func (ms *MCPServer) registerTools() {
	createTool := mcp.NewTool(toolCreateSession,
		mcp.WithDescription("Start a new prompt generation session from an informal goal"),
		mcp.WithString("input",
			mcp.Required(),
			mcp.Description("The goal to refine into a prompt"),
		),
		mcp.WithNumber("max_iterations",
			mcp.Description("Maximum dialogue cycles before the session fails"),
		),
		mcp.WithNumber("max_interventions",
			mcp.Description("Maximum accepted user interventions"),
		),
	)
	ms.server.AddTool(createTool, ms.handleCreateSession)

	getTool := mcp.NewTool(toolGetSession,
		mcp.WithDescription("Get the current state of a session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier"),
		),
	)
	ms.server.AddTool(getTool, ms.handleGetSession)

	listTool := mcp.NewTool(toolListSessions,
		mcp.WithDescription("List all sessions"),
	)
	ms.server.AddTool(listTool, ms.handleListSessions)

	historyTool := mcp.NewTool(toolGetHistory,
		mcp.WithDescription("Get a session's dialogue log from a sequence number onward"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier"),
		),
		mcp.WithNumber("from_sequence",
			mcp.Description("First sequence number to return (default 0: full log)"),
		),
	)
	ms.server.AddTool(historyTool, ms.handleGetHistory)

	submitTool := mcp.NewTool(toolSubmitUserInput,
		mcp.WithDescription("Add supplementary input to a session waiting for the user"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Supplementary input text"),
		),
	)
	ms.server.AddTool(submitTool, ms.handleSubmitUserInput)

	answerTool := mcp.NewTool(toolAnswerQuestion,
		mcp.WithDescription("Answer the pending clarifying question of a waiting session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier"),
		),
		mcp.WithString("question_id",
			mcp.Required(),
			mcp.Description("Identifier of the pending question"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Answer text"),
		),
	)
	ms.server.AddTool(answerTool, ms.handleAnswerQuestion)

	pauseTool := mcp.NewTool(toolRequestPause,
		mcp.WithDescription("Pause a running session so more input can be added"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier"),
		),
	)
	ms.server.AddTool(pauseTool, ms.handleRequestPause)

	cancelTool := mcp.NewTool(toolCancelSession,
		mcp.WithDescription("Cancel a session"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier"),
		),
	)
	ms.server.AddTool(cancelTool, ms.handleCancelSession)

	watchTool := mcp.NewTool(toolWatchSession,
		mcp.WithDescription("Stream a session's events to this client, with replay from a sequence number"),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier"),
		),
		mcp.WithNumber("from_sequence",
			mcp.Description("First sequence number to replay (default 0)"),
		),
	)
	ms.server.AddTool(watchTool, ms.handleWatchSession)
}

// Server returns the underlying mcp-go server for serving
func (ms *MCPServer) Server() *server.MCPServer {
	return ms.server
}

// getClientID resolves the calling client from the MCP session on the
// request context. The fallback covers direct handler invocation where
// no transport session exists.
func (ms *MCPServer) getClientID(ctx context.Context) string {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		return session.SessionID()
	}
	return "default-client"
}
