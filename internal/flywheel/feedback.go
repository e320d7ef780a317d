package flywheel

import (
	"fmt"
	"strings"
)

const (
	// Edits below this normalized distance are noise, not preference.
	minimalEditThreshold = 0.05
	// Net length change beyond this fraction is a length preference.
	lengthChangeThreshold = 0.30
)

// Approval carries everything feedback extraction needs from one approval.
type Approval struct {
	UserID        string
	DeliverableID string
	Draft         string
	Final         string
	Notes         string
	EditDistance  float64
}

// Extraction is one memory candidate produced by an extractor.
type Extraction struct {
	Key        string
	Value      string
	Confidence float64
}

// ExtractFeedback classifies the user's edit of a draft along fixed axes and
// returns memory candidates. An approval with trivial edits returns nothing.
func ExtractFeedback(a Approval) []Extraction {
	if a.EditDistance < minimalEditThreshold {
		return nil
	}

	var out []Extraction

	if notes := strings.TrimSpace(a.Notes); notes != "" {
		out = append(out, Extraction{
			Key:        "feedback:notes:" + a.DeliverableID,
			Value:      notes,
			Confidence: 0.9,
		})
	}

	draftLen := len([]rune(a.Draft))
	finalLen := len([]rune(a.Final))
	if draftLen > 0 {
		change := float64(finalLen-draftLen) / float64(draftLen)
		if change <= -lengthChangeThreshold {
			out = append(out, Extraction{
				Key:        "pattern:formatting_length",
				Value:      fmt.Sprintf("prefers shorter output (cut %.0f%% on edit)", -change*100),
				Confidence: 0.7,
			})
		} else if change >= lengthChangeThreshold {
			out = append(out, Extraction{
				Key:        "pattern:formatting_length",
				Value:      fmt.Sprintf("prefers longer output (grew %.0f%% on edit)", change*100),
				Confidence: 0.7,
			})
		}
	}

	if LeadParagraphRemoved(a.Draft, a.Final) {
		out = append(out, Extraction{
			Key:        "pattern:structure",
			Value:      "removes the lead paragraph; start with substance, skip the preamble",
			Confidence: 0.7,
		})
	}

	return out
}

// LeadParagraphRemoved reports whether the draft's first paragraph is absent
// from the final content.
func LeadParagraphRemoved(draft, final string) bool {
	lead := firstParagraph(draft)
	if lead == "" {
		return false
	}
	return !strings.Contains(normalizeWhitespace(final), normalizeWhitespace(lead))
}

func firstParagraph(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if idx := strings.Index(s, "\n\n"); idx > 0 {
		return strings.TrimSpace(s[:idx])
	}
	if idx := strings.Index(s, "\n"); idx > 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
