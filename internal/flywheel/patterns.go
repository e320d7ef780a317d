package flywheel

import (
	"fmt"
	"time"

	"github.com/stellarlinkco/briefops/internal/store"
)

const (
	patternWindowDays = 90

	minRunsForConcentration = 3
	minRunsForTypePref      = 5
	minApprovalsForTendency = 3

	concentrationShare = 0.5
	typePrefShare      = 0.6
	confidenceFloor    = 0.5
)

// DetectPatterns evaluates independent rule-based detectors over the trailing
// activity window. Each detector has its own minimum support so sparse history
// yields zero patterns rather than noisy ones.
func DetectPatterns(entries []store.ActivityLogEntry) []Extraction {
	var out []Extraction

	runs := filterEvents(entries, store.EventDeliverableRun)
	approvals := filterEvents(entries, store.EventDeliverableApproved)

	if e, ok := detectWeekdayConcentration(runs); ok {
		out = append(out, e)
	}
	if e, ok := detectHourConcentration(runs); ok {
		out = append(out, e)
	}
	if e, ok := detectTypePreference(runs); ok {
		out = append(out, e)
	}
	if e, ok := detectEditLocationTendency(approvals); ok {
		out = append(out, e)
	}
	if e, ok := detectLengthTendency(approvals); ok {
		out = append(out, e)
	}
	return out
}

// PatternWindowStart is the earliest activity timestamp DetectPatterns
// should consider, relative to now.
func PatternWindowStart(now time.Time) time.Time {
	return now.AddDate(0, 0, -patternWindowDays)
}

func detectWeekdayConcentration(runs []store.ActivityLogEntry) (Extraction, bool) {
	if len(runs) < minRunsForConcentration {
		return Extraction{}, false
	}
	counts := make(map[time.Weekday]int)
	for _, r := range runs {
		counts[r.CreatedAt.UTC().Weekday()]++
	}
	day, count := argmaxWeekday(counts)
	share := float64(count) / float64(len(runs))
	if share <= concentrationShare {
		return Extraction{}, false
	}
	return Extraction{
		Key:        "pattern:day_of_week",
		Value:      fmt.Sprintf("most runs happen on %s (%d of %d)", day, count, len(runs)),
		Confidence: confidence(share),
	}, true
}

func detectHourConcentration(runs []store.ActivityLogEntry) (Extraction, bool) {
	if len(runs) < minRunsForConcentration {
		return Extraction{}, false
	}
	counts := make(map[int]int)
	for _, r := range runs {
		counts[r.CreatedAt.UTC().Hour()]++
	}
	hour, count := argmaxInt(counts)
	share := float64(count) / float64(len(runs))
	if share <= concentrationShare {
		return Extraction{}, false
	}
	return Extraction{
		Key:        "pattern:time_of_day",
		Value:      fmt.Sprintf("most runs happen around %02d:00 UTC (%d of %d)", hour, count, len(runs)),
		Confidence: confidence(share),
	}, true
}

func detectTypePreference(runs []store.ActivityLogEntry) (Extraction, bool) {
	if len(runs) < minRunsForTypePref {
		return Extraction{}, false
	}
	counts := make(map[string]int)
	total := 0
	for _, r := range runs {
		t, _ := r.Metadata["deliverable_type"].(string)
		if t == "" {
			continue
		}
		counts[t]++
		total++
	}
	if total < minRunsForTypePref {
		return Extraction{}, false
	}
	typ, count := argmaxString(counts)
	share := float64(count) / float64(total)
	if share <= typePrefShare {
		return Extraction{}, false
	}
	return Extraction{
		Key:        "pattern:deliverable_type",
		Value:      fmt.Sprintf("prefers %s deliverables (%d of %d runs)", typ, count, total),
		Confidence: confidence(share),
	}, true
}

func detectEditLocationTendency(approvals []store.ActivityLogEntry) (Extraction, bool) {
	qualifying := 0
	for _, a := range approvals {
		if removed, _ := a.Metadata["lead_removed"].(bool); removed {
			qualifying++
		}
	}
	if qualifying < minApprovalsForTendency {
		return Extraction{}, false
	}
	return Extraction{
		Key:        "pattern:edit_location",
		Value:      fmt.Sprintf("repeatedly edits the opening of drafts (%d approvals)", qualifying),
		Confidence: confidence(float64(qualifying) / float64(len(approvals))),
	}, true
}

func detectLengthTendency(approvals []store.ActivityLogEntry) (Extraction, bool) {
	shorter, longer := 0, 0
	for _, a := range approvals {
		draftLen := metadataNumber(a.Metadata, "draft_length")
		finalLen := metadataNumber(a.Metadata, "final_length")
		if draftLen <= 0 {
			continue
		}
		change := (finalLen - draftLen) / draftLen
		if change <= -lengthChangeThreshold {
			shorter++
		} else if change >= lengthChangeThreshold {
			longer++
		}
	}

	direction, count := "shorter", shorter
	if longer > shorter {
		direction, count = "longer", longer
	}
	if count < minApprovalsForTendency {
		return Extraction{}, false
	}
	return Extraction{
		Key:        "pattern:formatting_length",
		Value:      fmt.Sprintf("consistently makes drafts %s (%d approvals)", direction, count),
		Confidence: confidence(float64(count) / float64(len(approvals))),
	}, true
}

func confidence(share float64) float64 {
	if share < confidenceFloor {
		return confidenceFloor
	}
	if share > 1 {
		return 1
	}
	return share
}

func filterEvents(entries []store.ActivityLogEntry, eventType string) []store.ActivityLogEntry {
	var out []store.ActivityLogEntry
	for _, e := range entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// metadataNumber reads a numeric metadata field; decoded JSON numbers arrive
// as float64.
func metadataNumber(meta map[string]any, key string) float64 {
	switch v := meta[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func argmaxWeekday(counts map[time.Weekday]int) (time.Weekday, int) {
	best, bestCount := time.Sunday, -1
	for d := time.Sunday; d <= time.Saturday; d++ {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best, bestCount
}

func argmaxInt(counts map[int]int) (int, int) {
	best, bestCount := 0, -1
	for h := 0; h < 24; h++ {
		if counts[h] > bestCount {
			best, bestCount = h, counts[h]
		}
	}
	return best, bestCount
}

func argmaxString(counts map[string]int) (string, int) {
	best, bestCount := "", -1
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best, bestCount = k, c
		}
	}
	return best, bestCount
}
