package orchestrator

import (
	"fmt"
	"strings"
)

// ContextSection is one labeled block of an assembled agent context
type ContextSection struct {
	Label   string
	Content string
}

// ContextPayload is the bounded input handed to an agent call. Building
// it is deterministic given the same role, goal and entries, which keeps
// cycles replayable from the message log alone.
type ContextPayload struct {
	Role     Role
	Sections []ContextSection
}

// Render flattens the payload into the text sent to the model
func (p *ContextPayload) Render() string {
	var b strings.Builder
	for _, sec := range p.Sections {
		b.WriteString("## ")
		b.WriteString(sec.Label)
		b.WriteString("\n")
		b.WriteString(sec.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Assembler builds agent contexts from the session goal and the message
// log. SectionLimit bounds each section in runes; oversized content is
// truncated rather than dropped.
type Assembler struct {
	SectionLimit int
}

// NewAssembler creates an assembler with the given per-section rune limit
func NewAssembler(sectionLimit int) *Assembler {
	return &Assembler{SectionLimit: sectionLimit}
}

// BuildContext assembles the payload for one agent turn. Entries must be
// in sequence order. Supplementary user inputs are placed directly after
// the goal, before any dialogue of the current iteration, in arrival
// order; they are cumulative, never overwritten.
func (a *Assembler) BuildContext(role Role, goal string, entries []*Entry) *ContextPayload {
	payload := &ContextPayload{Role: role}
	payload.Sections = append(payload.Sections, ContextSection{
		Label:   "Goal",
		Content: a.truncate(goal),
	})

	var supplementary []string
	var dialogue []*Entry
	var lastRequirement, lastSolution *Entry
	for _, e := range entries {
		if e.Kind == KindSupplementaryInput {
			supplementary = append(supplementary, e.Content)
			continue
		}
		dialogue = append(dialogue, e)
		switch e.Kind {
		case KindRequirement:
			lastRequirement = e
		case KindSolution:
			lastSolution = e
		}
	}

	if len(supplementary) > 0 {
		var b strings.Builder
		for i, text := range supplementary {
			fmt.Fprintf(&b, "%d. %s\n", i+1, text)
		}
		payload.Sections = append(payload.Sections, ContextSection{
			Label:   "Additional user input",
			Content: a.truncate(strings.TrimRight(b.String(), "\n")),
		})
	}

	if len(dialogue) > 0 {
		var b strings.Builder
		for _, e := range dialogue {
			fmt.Fprintf(&b, "[%s/%s] %s\n", e.Role, e.Kind, e.Content)
		}
		payload.Sections = append(payload.Sections, ContextSection{
			Label:   "Dialogue so far",
			Content: a.truncate(strings.TrimRight(b.String(), "\n")),
		})
	}

	// The technical role works from the latest requirement; the reviewer
	// judges the latest requirement and solution as a pair.
	switch role {
	case RoleTechnical:
		if lastRequirement != nil {
			payload.Sections = append(payload.Sections, ContextSection{
				Label:   "Requirement",
				Content: a.truncate(lastRequirement.Content),
			})
		}
	case RoleReview:
		if lastRequirement != nil {
			payload.Sections = append(payload.Sections, ContextSection{
				Label:   "Requirement",
				Content: a.truncate(lastRequirement.Content),
			})
		}
		if lastSolution != nil {
			payload.Sections = append(payload.Sections, ContextSection{
				Label:   "Solution",
				Content: a.truncate(lastSolution.Content),
			})
		}
	}

	return payload
}

func (a *Assembler) truncate(s string) string {
	if a.SectionLimit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= a.SectionLimit {
		return s
	}
	return string(runes[:a.SectionLimit]) + " [truncated]"
}
