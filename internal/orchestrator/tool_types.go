package orchestrator

import "time"

// SessionResponse is the JSON shape returned by session tools
type SessionResponse struct {
	SessionID         string     `json:"session_id"`
	Status            string     `json:"status"`
	Reason            string     `json:"reason,omitempty"`
	StatusDetail      string     `json:"status_detail,omitempty"`
	Input             string     `json:"input,omitempty"`
	IterationCount    int        `json:"iteration_count"`
	MaxIterations     int        `json:"max_iterations"`
	InterventionCount int        `json:"intervention_count"`
	MaxInterventions  int        `json:"max_interventions"`
	WaitingSince      *time.Time `json:"waiting_since,omitempty"`
	FinalOutput       string     `json:"final_output,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`

	PendingQuestion *QuestionResponse `json:"pending_question,omitempty"`
}

// QuestionResponse is the JSON shape of a clarifying question
type QuestionResponse struct {
	QuestionID string    `json:"question_id"`
	Text       string    `json:"text"`
	AskedAt    time.Time `json:"asked_at"`
	Deadline   time.Time `json:"deadline"`
	Status     string    `json:"status"`
}

// SessionListResponse wraps the list_sessions result
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Count    int               `json:"count"`
}

// HistoryResponse wraps the get_history result
type HistoryResponse struct {
	SessionID string   `json:"session_id"`
	Entries   []*Entry `json:"entries"`
	Count     int      `json:"count"`
}

// WatchResponse acknowledges a watch_session call
type WatchResponse struct {
	SessionID    string `json:"session_id"`
	ClientID     string `json:"client_id"`
	FromSequence uint64 `json:"from_sequence"`
	Watching     bool   `json:"watching"`
}

func sessionResponse(session *Session, question *PendingQuestion) SessionResponse {
	resp := SessionResponse{
		SessionID:         session.ID,
		Status:            string(session.Status),
		Reason:            string(session.Reason),
		StatusDetail:      session.StatusDetail,
		Input:             session.Input,
		IterationCount:    session.IterationCount,
		MaxIterations:     session.MaxIterations,
		InterventionCount: session.InterventionCount,
		MaxInterventions:  session.MaxInterventions,
		WaitingSince:      session.WaitingSince,
		FinalOutput:       session.FinalOutput,
		CreatedAt:         session.CreatedAt,
		UpdatedAt:         session.UpdatedAt,
		CompletedAt:       session.CompletedAt,
	}
	if question != nil {
		resp.PendingQuestion = &QuestionResponse{
			QuestionID: question.ID,
			Text:       question.Text,
			AskedAt:    question.AskedAt,
			Deadline:   question.Deadline,
			Status:     string(question.Status),
		}
	}
	return resp
}
