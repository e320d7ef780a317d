package deliverable

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is the recurrence granularity of a schedule.
type Frequency string

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

// Schedule describes when a deliverable runs. Weekday applies to weekly and
// biweekly schedules; TimeOfDay is "HH:MM" in UTC and applies to all.
type Schedule struct {
	Frequency Frequency `json:"frequency"`
	Weekday   string    `json:"weekday,omitempty"`
	TimeOfDay string    `json:"timeOfDay,omitempty"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (s Schedule) Validate() error {
	switch s.Frequency {
	case Daily, Weekly, Biweekly, Monthly:
	default:
		return fmt.Errorf("unknown schedule frequency: %q", s.Frequency)
	}
	if s.Weekday != "" {
		if _, ok := weekdays[strings.ToLower(strings.TrimSpace(s.Weekday))]; !ok {
			return fmt.Errorf("unknown schedule weekday: %q", s.Weekday)
		}
	}
	if s.TimeOfDay != "" {
		if _, _, err := parseTimeOfDay(s.TimeOfDay); err != nil {
			return err
		}
	}
	return nil
}

// NextRun computes the first run time strictly after from. All computation is
// in UTC; the scheduler is the sole writer of the resulting field.
func (s Schedule) NextRun(from time.Time) time.Time {
	from = from.UTC()
	hour, minute := 9, 0
	if s.TimeOfDay != "" {
		if h, m, err := parseTimeOfDay(s.TimeOfDay); err == nil {
			hour, minute = h, m
		}
	}

	candidate := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, time.UTC)

	switch s.Frequency {
	case Daily:
		if !candidate.After(from) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate
	case Weekly, Biweekly:
		target := candidate.Weekday()
		if s.Weekday != "" {
			target = weekdays[strings.ToLower(strings.TrimSpace(s.Weekday))]
		}
		for candidate.Weekday() != target || !candidate.After(from) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if s.Frequency == Biweekly {
			candidate = candidate.AddDate(0, 0, 7)
		}
		return candidate
	case Monthly:
		// Same day next month, clamped by AddDate normalization.
		if !candidate.After(from) {
			candidate = candidate.AddDate(0, 1, 0)
		}
		return candidate
	default:
		return from.AddDate(0, 0, 1)
	}
}

func parseTimeOfDay(v string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timeOfDay %q: want HH:MM", v)
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid timeOfDay %q: want HH:MM", v)
	}
	return hour, minute, nil
}
