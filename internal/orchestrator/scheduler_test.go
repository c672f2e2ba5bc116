package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestScheduler_RejectTwiceThenApprove(t *testing.T) {
	h := newHarness(t)
	h.caller.script(RoleProduct, "Req v1", "Req v2", "Req v3")
	h.caller.script(RoleTechnical, "Sol v1", "Sol v2", "Sol v3")
	h.caller.script(RoleReview,
		"REJECTED\nToo vague.",
		"REJECTED\nStill missing constraints.",
		"APPROVED\nFinal Prompt:\nDo the thing precisely.",
	)
	h.newSession(t, "s1", "informal goal", 5, 3)

	if err := h.scheduler.Run(context.Background(), "s1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	session := h.mustGet(t, "s1")
	if session.Status != StatusCompleted {
		t.Fatalf("Expected completed, got %s", session.Status)
	}
	if session.IterationCount != 3 {
		t.Errorf("Expected 3 iterations, got %d", session.IterationCount)
	}
	if session.FinalOutput != "Do the thing precisely." {
		t.Errorf("Unexpected final output: %q", session.FinalOutput)
	}
	if session.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set")
	}

	entries := entriesOf(t, h.log, "s1")
	if len(entries) != 9 {
		t.Fatalf("Expected 9 entries, got %d", len(entries))
	}
	if n := countKind(entries, KindRequirement); n != 3 {
		t.Errorf("Expected 3 requirements, got %d", n)
	}
	if n := countKind(entries, KindSolution); n != 3 {
		t.Errorf("Expected 3 solutions, got %d", n)
	}
	if n := countKind(entries, KindReviewFeedback); n != 2 {
		t.Errorf("Expected 2 review feedbacks, got %d", n)
	}
	if n := countKind(entries, KindApproval); n != 1 {
		t.Errorf("Expected 1 approval, got %d", n)
	}

	// Sequences are gap-free and strictly increasing
	for i, e := range entries {
		if e.Sequence != uint64(i+1) {
			t.Fatalf("Entry %d has sequence %d", i, e.Sequence)
		}
	}
}

func TestScheduler_IterationLimitFails(t *testing.T) {
	h := newHarness(t)
	h.caller.script(RoleProduct, "Req v1", "Req v2", "Req v3")
	h.caller.script(RoleTechnical, "Sol v1", "Sol v2", "Sol v3")
	h.caller.script(RoleReview, "REJECTED\nNo.", "REJECTED\nStill no.", "REJECTED\nNever.")
	h.newSession(t, "s1", "goal", 2, 3)

	if err := h.scheduler.Run(context.Background(), "s1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	session := h.mustGet(t, "s1")
	if session.Status != StatusFailed {
		t.Fatalf("Expected failed, got %s", session.Status)
	}
	if session.Reason != ReasonIterationLimit {
		t.Errorf("Expected reason %s, got %s", ReasonIterationLimit, session.Reason)
	}
	if session.IterationCount != 2 {
		t.Errorf("Expected exactly 2 iterations, got %d", session.IterationCount)
	}
	if session.LastFeedback != "Still no." {
		t.Errorf("Unexpected last feedback: %q", session.LastFeedback)
	}

	// No third cycle ran
	entries := entriesOf(t, h.log, "s1")
	if n := countKind(entries, KindRequirement); n != 2 {
		t.Errorf("Expected 2 requirements, got %d", n)
	}
}

func TestScheduler_ClarifyingQuestionParksSession(t *testing.T) {
	h := newHarness(t)
	h.caller.script(RoleProduct, "CLARIFY: Which audience is this for?")
	h.newSession(t, "s1", "write something", 5, 3)

	if err := h.scheduler.Run(context.Background(), "s1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	session := h.mustGet(t, "s1")
	if session.Status != StatusWaitingForUser {
		t.Fatalf("Expected waiting_for_user, got %s", session.Status)
	}
	if session.WaitingSince == nil {
		t.Error("Expected WaitingSince to be set")
	}

	entries := entriesOf(t, h.log, "s1")
	if len(entries) != 1 || entries[0].Kind != KindClarifyingQuestion {
		t.Fatalf("Expected a single clarifying_question entry, got %+v", entries)
	}
	if countKind(entries, KindSolution) != 0 {
		t.Error("No solution should exist before the question is answered")
	}

	question, err := h.store.PendingQuestionFor(context.Background(), "s1")
	if err != nil {
		t.Fatalf("PendingQuestionFor failed: %v", err)
	}
	if question == nil {
		t.Fatal("Expected a pending question")
	}
	if question.Text != "Which audience is this for?" {
		t.Errorf("Unexpected question text: %q", question.Text)
	}
	if question.EntrySequence != entries[0].Sequence {
		t.Errorf("Question entry sequence mismatch: %d vs %d", question.EntrySequence, entries[0].Sequence)
	}
	if !question.Deadline.After(question.AskedAt) {
		t.Error("Deadline must be after AskedAt")
	}
}

func TestScheduler_AgentErrorFailsSession(t *testing.T) {
	h := newHarness(t)
	h.caller.script(RoleProduct, "Req v1")
	h.caller.failRole(RoleTechnical, errors.New("model unavailable"))
	h.newSession(t, "s1", "goal", 5, 3)

	err := h.scheduler.Run(context.Background(), "s1")
	if err == nil {
		t.Fatal("Expected Run to surface the agent error")
	}

	session := h.mustGet(t, "s1")
	if session.Status != StatusFailed {
		t.Fatalf("Expected failed, got %s", session.Status)
	}
	if session.Reason != ReasonAgentError {
		t.Errorf("Expected reason %s, got %s", ReasonAgentError, session.Reason)
	}
	if !strings.Contains(session.StatusDetail, "model unavailable") {
		t.Errorf("Status detail should carry the cause, got %q", session.StatusDetail)
	}
}

func TestScheduler_AmbiguousReviewTreatedAsRejection(t *testing.T) {
	h := newHarness(t)
	h.caller.script(RoleProduct, "Req v1", "Req v2")
	h.caller.script(RoleTechnical, "Sol v1", "Sol v2")
	h.caller.script(RoleReview,
		"This looks interesting but I am not sure.",
		"APPROVED\nFinal Prompt:\nShip it.",
	)
	h.newSession(t, "s1", "goal", 5, 3)

	if err := h.scheduler.Run(context.Background(), "s1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	session := h.mustGet(t, "s1")
	if session.Status != StatusCompleted {
		t.Fatalf("Expected completed, got %s", session.Status)
	}
	if session.IterationCount != 2 {
		t.Errorf("Expected 2 iterations, got %d", session.IterationCount)
	}

	entries := entriesOf(t, h.log, "s1")
	var ambiguous *Entry
	for _, e := range entries {
		if e.Kind == KindReviewFeedback {
			ambiguous = e
		}
	}
	if ambiguous == nil {
		t.Fatal("Expected a review_feedback entry for the ambiguous verdict")
	}
	if !ambiguous.Ambiguous {
		t.Error("Ambiguous verdict entry should carry the Ambiguous flag")
	}
}

func TestScheduler_SingleWriterGuard(t *testing.T) {
	h := newHarness(t)
	h.caller.script(RoleProduct, "Req v1")
	h.caller.script(RoleTechnical, "Sol v1")
	h.caller.script(RoleReview, "APPROVED\nFinal Prompt:\nDone.")
	h.newSession(t, "s1", "goal", 5, 3)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.scheduler.Run(context.Background(), "s1")
		}(i)
	}
	wg.Wait()

	busy := 0
	for _, err := range errs {
		if errors.Is(err, ErrSchedulerBusy) {
			busy++
		} else if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if busy == 0 && h.caller.maxInflight > 1 {
		t.Error("Concurrent runs were not serialized")
	}
	if h.caller.maxInflight > 1 {
		t.Errorf("Agent calls overlapped: max inflight %d", h.caller.maxInflight)
	}

	session := h.waitForStatus(t, "s1", StatusCompleted)
	if session.IterationCount != 1 {
		t.Errorf("Expected 1 iteration, got %d", session.IterationCount)
	}
}

func TestScheduler_AppendDiscardedAfterPause(t *testing.T) {
	h := newHarness(t)
	h.newSession(t, "s1", "goal", 5, 3)

	// Simulate a cycle whose session got paused mid-flight
	ctx := context.Background()
	if _, err := h.store.CompareAndSwapStatus(ctx, "s1", StatusActive, StatusWaitingForUser, nil); err != nil {
		t.Fatalf("CAS failed: %v", err)
	}

	_, err := h.scheduler.append(ctx, &Entry{
		SessionID: "s1",
		Role:      RoleProduct,
		Kind:      KindRequirement,
		Content:   "late result",
	})
	if !errors.Is(err, errCycleSuperseded) {
		t.Fatalf("Expected errCycleSuperseded, got %v", err)
	}
	if len(entriesOf(t, h.log, "s1")) != 0 {
		t.Error("Late result must not reach the log")
	}
}

func TestScheduler_RunOnTerminalSessionIsNoop(t *testing.T) {
	h := newHarness(t)
	session := h.newSession(t, "s1", "goal", 5, 3)
	ctx := context.Background()
	if _, err := h.store.CompareAndSwapStatus(ctx, session.ID, StatusActive, StatusFailed,
		func(s *Session) { s.Reason = ReasonUserCancelled }); err != nil {
		t.Fatalf("CAS failed: %v", err)
	}

	if err := h.scheduler.Run(ctx, "s1"); err != nil {
		t.Fatalf("Run on terminal session should be a no-op, got %v", err)
	}
	if h.caller.callCount() != 0 {
		t.Errorf("No agent calls expected, got %d", h.caller.callCount())
	}
}
