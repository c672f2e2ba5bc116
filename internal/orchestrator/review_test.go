package orchestrator

import (
	"strings"
	"testing"
)

func TestParseReviewVerdict(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		verdict  ReviewVerdict
		feedback string
	}{
		{
			name:    "plain approval",
			output:  "APPROVED",
			verdict: VerdictApproved,
		},
		{
			name:     "approval with body",
			output:   "APPROVED\nGood work overall.",
			verdict:  VerdictApproved,
			feedback: "Good work overall.",
		},
		{
			name:     "rejection with body",
			output:   "REJECTED\nThe prompt lacks constraints.",
			verdict:  VerdictRejected,
			feedback: "The prompt lacks constraints.",
		},
		{
			name:     "rejection with inline feedback",
			output:   "REJECTED: missing examples",
			verdict:  VerdictRejected,
			feedback: "missing examples",
		},
		{
			name:     "needs revision phrasing",
			output:   "Needs revision\nAdd an output format.",
			verdict:  VerdictRejected,
			feedback: "Add an output format.",
		},
		{
			name:     "status prefix",
			output:   "STATUS: APPROVED\nShip it.",
			verdict:  VerdictApproved,
			feedback: "Ship it.",
		},
		{
			name:     "lowercase marker",
			output:   "approved\nfine",
			verdict:  VerdictApproved,
			feedback: "fine",
		},
		{
			name:    "leading blank lines",
			output:  "\n\n  REJECTED\nWeak.",
			verdict: VerdictRejected, feedback: "Weak.",
		},
		{
			name:     "no marker is ambiguous",
			output:   "I think this could work, maybe.",
			verdict:  VerdictAmbiguous,
			feedback: "I think this could work, maybe.",
		},
		{
			name:     "marker buried mid-text is ambiguous",
			output:   "The solution was APPROVED by nobody.",
			verdict:  VerdictAmbiguous,
			feedback: "The solution was APPROVED by nobody.",
		},
		{
			name:    "empty output is ambiguous",
			output:  "",
			verdict: VerdictAmbiguous,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			verdict, feedback := ParseReviewVerdict(test.output)
			if verdict != test.verdict {
				t.Errorf("Expected verdict %d, got %d", test.verdict, verdict)
			}
			if feedback != test.feedback {
				t.Errorf("Expected feedback %q, got %q", test.feedback, feedback)
			}
		})
	}
}

func TestParseClarifyingQuestion(t *testing.T) {
	question, ok := ParseClarifyingQuestion("CLARIFY: Who is the audience?")
	if !ok || question != "Who is the audience?" {
		t.Errorf("Expected question, got ok=%v question=%q", ok, question)
	}

	question, ok = ParseClarifyingQuestion("Some preface.\nclarify: what language?\nmore text")
	if !ok || question != "what language?" {
		t.Errorf("Case-insensitive marker should match, got ok=%v question=%q", ok, question)
	}

	if _, ok := ParseClarifyingQuestion("CLARIFY:"); ok {
		t.Error("Empty question must not park the session")
	}
	if _, ok := ParseClarifyingQuestion("A requirement without questions."); ok {
		t.Error("No marker means no question")
	}
}

func TestExtractFinalPrompt(t *testing.T) {
	t.Run("explicit section", func(t *testing.T) {
		approval := "APPROVED\n\n## Final Prompt:\nWrite a haiku about autumn.\nKeep it to three lines."
		got := ExtractFinalPrompt(approval, "req", "sol")
		if !strings.HasPrefix(got, "Write a haiku about autumn.") {
			t.Errorf("Unexpected prompt: %q", got)
		}
	})

	t.Run("header stripping fallback", func(t *testing.T) {
		approval := "APPROVED\n# Summary\nThe final text follows.\nDo the task carefully."
		got := ExtractFinalPrompt(approval, "req", "sol")
		if strings.Contains(got, "APPROVED") || strings.Contains(got, "# Summary") {
			t.Errorf("Marker and header lines must be stripped, got %q", got)
		}
		if !strings.Contains(got, "Do the task carefully.") {
			t.Errorf("Body must survive, got %q", got)
		}
	})

	t.Run("synthesis fallback", func(t *testing.T) {
		got := ExtractFinalPrompt("APPROVED", "the requirement", "the solution")
		if got != "the requirement\n\nthe solution" {
			t.Errorf("Unexpected synthesis: %q", got)
		}
	})
}
