package orchestrator

import (
	"regexp"
	"strings"
)

// ReviewVerdict is the tri-state classification of a review turn
type ReviewVerdict int

const (
	// VerdictAmbiguous means the output neither clearly approves nor
	// rejects. Treated as a rejection so the dialogue keeps iterating
	// instead of completing prematurely.
	VerdictAmbiguous ReviewVerdict = iota
	// VerdictApproved means the reviewer accepted the requirement/solution pair
	VerdictApproved
	// VerdictRejected means the reviewer sent the pair back with feedback
	VerdictRejected
)

var finalPromptRe = regexp.MustCompile(`(?is)#*\s*final prompt\s*:?\s*\n?(.+)`)

// ParseReviewVerdict classifies a review turn's output and extracts the
// feedback text. The reviewer signals its verdict with an APPROVED or
// REJECTED marker on the first non-empty line; anything else is
// ambiguous.
func ParseReviewVerdict(output string) (ReviewVerdict, string) {
	trimmed := strings.TrimSpace(output)
	var first string
	for _, line := range strings.Split(trimmed, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			first = strings.ToUpper(s)
			break
		}
	}

	first = strings.TrimPrefix(first, "STATUS:")
	first = strings.TrimSpace(first)

	switch {
	case strings.HasPrefix(first, "APPROVED") || strings.HasPrefix(first, "APPROVE"):
		return VerdictApproved, feedbackAfterMarker(trimmed)
	case strings.HasPrefix(first, "REJECTED") || strings.HasPrefix(first, "REJECT") ||
		strings.HasPrefix(first, "NEEDS REVISION"):
		return VerdictRejected, feedbackAfterMarker(trimmed)
	default:
		return VerdictAmbiguous, trimmed
	}
}

// feedbackAfterMarker drops the verdict line and returns the rest
func feedbackAfterMarker(output string) string {
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			rest := strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
			// Feedback on the marker line itself, after a colon
			if _, after, ok := strings.Cut(line, ":"); ok {
				if inline := strings.TrimSpace(after); inline != "" && rest == "" {
					return inline
				}
			}
			return rest
		}
	}
	return ""
}

// ParseClarifyingQuestion detects the product role's ambiguity signal: a
// line starting with CLARIFY: followed by the question text.
func ParseClarifyingQuestion(output string) (string, bool) {
	for _, line := range strings.Split(output, "\n") {
		s := strings.TrimSpace(line)
		upper := strings.ToUpper(s)
		if strings.HasPrefix(upper, "CLARIFY:") {
			question := strings.TrimSpace(s[len("CLARIFY:"):])
			if question != "" {
				return question, true
			}
		}
	}
	return "", false
}

// ExtractFinalPrompt derives the session's final output from the
// approval message. It prefers an explicit "Final Prompt:" section,
// then the approval body with header lines stripped, then a synthesis
// of the approved requirement and solution.
func ExtractFinalPrompt(approval, requirement, solution string) string {
	if m := finalPromptRe.FindStringSubmatch(approval); m != nil {
		if prompt := strings.TrimSpace(m[1]); prompt != "" {
			return prompt
		}
	}

	var core []string
	for _, line := range strings.Split(approval, "\n") {
		s := strings.TrimSpace(line)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		lower := strings.ToLower(s)
		if strings.Contains(lower, "approved") || strings.Contains(lower, "approval") ||
			strings.HasPrefix(lower, "summary") {
			continue
		}
		core = append(core, s)
	}
	if len(core) > 0 {
		return strings.Join(core, "\n")
	}

	return strings.TrimSpace(requirement + "\n\n" + solution)
}
