package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/promptloom/promptloom/internal/orchestrator"
)

var errQuestionPending = errors.New("session already has a pending question")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                 TEXT PRIMARY KEY,
	input              TEXT NOT NULL,
	status             TEXT NOT NULL,
	reason             TEXT NOT NULL DEFAULT '',
	status_detail      TEXT NOT NULL DEFAULT '',
	iteration_count    INTEGER NOT NULL DEFAULT 0,
	max_iterations     INTEGER NOT NULL,
	intervention_count INTEGER NOT NULL DEFAULT 0,
	max_interventions  INTEGER NOT NULL,
	waiting_since      TIMESTAMP,
	final_output       TEXT NOT NULL DEFAULT '',
	last_feedback      TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL,
	completed_at       TIMESTAMP
);

CREATE TABLE IF NOT EXISTS entries (
	session_id      TEXT NOT NULL,
	sequence        INTEGER NOT NULL,
	role            TEXT NOT NULL,
	kind            TEXT NOT NULL,
	content         TEXT NOT NULL,
	parent_sequence INTEGER NOT NULL DEFAULT 0,
	ambiguous       INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, sequence)
);

CREATE TABLE IF NOT EXISTS questions (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	text           TEXT NOT NULL,
	asked_at       TIMESTAMP NOT NULL,
	deadline       TIMESTAMP NOT NULL,
	status         TEXT NOT NULL,
	answer         TEXT NOT NULL DEFAULT '',
	entry_sequence INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_questions_session_pending
	ON questions (session_id) WHERE status = 'pending';
`

// Store implements orchestrator.SessionStore and orchestrator.MessageLog
// on a single SQLite database
type Store struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the database at path
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session record
func (s *Store) CreateSession(ctx context.Context, session *orchestrator.Session) error {
	now := time.Now()
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := session.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, input, status, reason, status_detail,
			iteration_count, max_iterations, intervention_count, max_interventions,
			waiting_since, final_output, last_feedback,
			created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Input, string(session.Status), string(session.Reason), session.StatusDetail,
		session.IterationCount, session.MaxIterations, session.InterventionCount, session.MaxInterventions,
		session.WaitingSince, session.FinalOutput, session.LastFeedback,
		createdAt, updatedAt, session.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID, nil if not found
func (s *Store) GetSession(ctx context.Context, sessionID string) (*orchestrator.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, input, status, reason, status_detail,
			iteration_count, max_iterations, intervention_count, max_interventions,
			waiting_since, final_output, last_feedback,
			created_at, updated_at, completed_at
		FROM sessions WHERE id = ?`, sessionID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return session, err
}

// ListSessions retrieves all sessions
func (s *Store) ListSessions(ctx context.Context) ([]*orchestrator.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, input, status, reason, status_detail,
			iteration_count, max_iterations, intervention_count, max_interventions,
			waiting_since, final_output, last_feedback,
			created_at, updated_at, completed_at
		FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*orchestrator.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	return result, rows.Err()
}

// CompareAndSwapStatus atomically moves the session from expected to
// next inside a write transaction, applying mutate to the loaded record
func (s *Store) CompareAndSwapStatus(
	ctx context.Context,
	sessionID string,
	expected, next orchestrator.SessionStatus,
	mutate func(*orchestrator.Session),
) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, input, status, reason, status_detail,
			iteration_count, max_iterations, intervention_count, max_interventions,
			waiting_since, final_output, last_feedback,
			created_at, updated_at, completed_at
		FROM sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return false, orchestrator.ErrSessionNotFound
	}
	if err != nil {
		return false, err
	}
	if session.Status != expected {
		return false, nil
	}

	session.Status = next
	if mutate != nil {
		mutate(session)
	}
	session.UpdatedAt = time.Now()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET
			status = ?, reason = ?, status_detail = ?,
			iteration_count = ?, intervention_count = ?,
			waiting_since = ?, final_output = ?, last_feedback = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(session.Status), string(session.Reason), session.StatusDetail,
		session.IterationCount, session.InterventionCount,
		session.WaitingSince, session.FinalOutput, session.LastFeedback,
		session.UpdatedAt, session.CompletedAt,
		sessionID, string(expected),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	return true, tx.Commit()
}

// DeleteSession removes a session and its questions. Idempotent.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateQuestion records a clarifying question, rejecting a second
// pending question for the same session
func (s *Store) CreateQuestion(ctx context.Context, question *orchestrator.PendingQuestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM questions WHERE session_id = ? AND status = 'pending'`,
		question.SessionID,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return errQuestionPending
	}

	status := question.Status
	if status == "" {
		status = orchestrator.QuestionPending
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO questions (id, session_id, text, asked_at, deadline, status, answer, entry_sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		question.ID, question.SessionID, question.Text,
		question.AskedAt, question.Deadline, string(status),
		question.Answer, question.EntrySequence,
	)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return tx.Commit()
}

// PendingQuestionFor returns the session's pending question, nil if none
func (s *Store) PendingQuestionFor(ctx context.Context, sessionID string) (*orchestrator.PendingQuestion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, text, asked_at, deadline, status, answer, entry_sequence
		FROM questions WHERE session_id = ? AND status = 'pending'`, sessionID)

	var q orchestrator.PendingQuestion
	var status string
	err := row.Scan(&q.ID, &q.SessionID, &q.Text, &q.AskedAt, &q.Deadline, &status, &q.Answer, &q.EntrySequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	q.Status = orchestrator.QuestionStatus(status)
	return &q, nil
}

// ResolveQuestion marks a pending question answered or expired.
// Resolving a question that is no longer pending is a no-op.
func (s *Store) ResolveQuestion(ctx context.Context, questionID string, status orchestrator.QuestionStatus, answer string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE questions SET status = ?, answer = ? WHERE id = ? AND status = 'pending'`,
		string(status), answer, questionID,
	)
	return err
}

// Append stores the entry with the next per-session sequence number
func (s *Store) Append(ctx context.Context, entry *orchestrator.Entry) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var seq uint64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM entries WHERE session_id = ?`,
		entry.SessionID,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (session_id, sequence, role, kind, content, parent_sequence, ambiguous, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID, seq, string(entry.Role), string(entry.Kind),
		entry.Content, entry.ParentSequence, entry.Ambiguous, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	entry.Sequence = seq
	entry.CreatedAt = createdAt
	return seq, nil
}

// EntriesFrom returns entries with sequence >= fromSeq in sequence order
func (s *Store) EntriesFrom(ctx context.Context, sessionID string, fromSeq uint64) ([]*orchestrator.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, sequence, role, kind, content, parent_sequence, ambiguous, created_at
		FROM entries WHERE session_id = ? AND sequence >= ?
		ORDER BY sequence`, sessionID, fromSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*orchestrator.Entry, 0)
	for rows.Next() {
		var e orchestrator.Entry
		var role, kind string
		err := rows.Scan(&e.SessionID, &e.Sequence, &role, &kind, &e.Content, &e.ParentSequence, &e.Ambiguous, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		e.Role = orchestrator.Role(role)
		e.Kind = orchestrator.EntryKind(kind)
		result = append(result, &e)
	}
	return result, rows.Err()
}

// LastSequence returns the highest assigned sequence for the session
func (s *Store) LastSequence(ctx context.Context, sessionID string) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM entries WHERE session_id = ?`,
		sessionID,
	).Scan(&seq)
	return seq, err
}

// DeleteEntries removes a session's log. Used by retention cleanup.
func (s *Store) DeleteEntries(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE session_id = ?`, sessionID)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*orchestrator.Session, error) {
	var session orchestrator.Session
	var status, reason string
	var waitingSince, completedAt sql.NullTime
	err := row.Scan(
		&session.ID, &session.Input, &status, &reason, &session.StatusDetail,
		&session.IterationCount, &session.MaxIterations,
		&session.InterventionCount, &session.MaxInterventions,
		&waitingSince, &session.FinalOutput, &session.LastFeedback,
		&session.CreatedAt, &session.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	session.Status = orchestrator.SessionStatus(status)
	session.Reason = orchestrator.FailureReason(reason)
	if waitingSince.Valid {
		t := waitingSince.Time
		session.WaitingSince = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		session.CompletedAt = &t
	}
	return &session, nil
}
