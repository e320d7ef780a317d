package deliverable

import (
	"fmt"
	"strings"
	"time"
)

// Type is the closed set of supported content shapes.
type Type string

const (
	TypeStatusReport Type = "status_report"
	TypeMeetingPrep  Type = "meeting_prep"
	TypeDigest       Type = "digest"
	TypeBrief        Type = "brief"
	TypeSummary      Type = "summary"
)

// Types lists every supported deliverable type in stable order.
func Types() []Type {
	return []Type{TypeStatusReport, TypeMeetingPrep, TypeDigest, TypeBrief, TypeSummary}
}

func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown deliverable type: %q", s)
}

// Status is the deliverable lifecycle status. Archived deliverables are kept
// forever; there is no hard delete.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// Origin records how a deliverable came to exist.
type Origin string

const (
	OriginUserConfigured   Origin = "user_configured"
	OriginAnalystSuggested Origin = "analyst_suggested"
	OriginSignalEmergent   Origin = "signal_emergent"
)

// SourceType discriminates Source references.
type SourceType string

const (
	SourceURL               SourceType = "url"
	SourceDescription       SourceType = "description"
	SourceIntegrationImport SourceType = "integration_import"
)

// ScopeMode selects how much history a source fetch covers.
type ScopeMode string

const (
	ScopeDelta       ScopeMode = "delta"
	ScopeFixedWindow ScopeMode = "fixed_window"
)

// ExtractionScope bounds a single source fetch. Delta mode reads and advances
// a per-source watermark; fixed-window mode never touches one.
type ExtractionScope struct {
	Mode         ScopeMode `json:"mode"`
	FallbackDays int       `json:"fallbackDays,omitempty"`
	RecencyDays  int       `json:"recencyDays,omitempty"`
	MaxItems     int       `json:"maxItems,omitempty"`
}

// Source is a typed reference to external content inside a deliverable.
type Source struct {
	Type     SourceType      `json:"type"`
	Provider string          `json:"provider,omitempty"`
	Source   string          `json:"source,omitempty"`
	URL      string          `json:"url,omitempty"`
	Text     string          `json:"text,omitempty"`
	Filters  []string        `json:"filters,omitempty"`
	Scope    ExtractionScope `json:"scope"`
}

// Key identifies the source inside its deliverable for watermark storage.
func (s Source) Key() string {
	switch s.Type {
	case SourceIntegrationImport:
		return string(s.Type) + ":" + s.Provider + ":" + s.Source
	case SourceURL:
		return string(s.Type) + ":" + s.URL
	default:
		return string(s.Type)
	}
}

// DestinationType routes finished content.
type DestinationType string

const (
	DestTelegram DestinationType = "telegram"
	DestWebhook  DestinationType = "webhook"
	DestLog      DestinationType = "log"
)

// Destination is where approved content is sent.
type Destination struct {
	Type   DestinationType `json:"type"`
	Target string          `json:"target,omitempty"`
}

// Deliverable is a recurring content contract owned by a single user.
type Deliverable struct {
	ID               string
	UserID           string
	Title            string
	Type             Type
	Schedule         Schedule
	Sources          []Source
	Destination      Destination
	RecipientContext string
	Status           Status
	Origin           Origin
	NextRunAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate rejects malformed deliverables before any state mutation.
func (d *Deliverable) Validate() error {
	if strings.TrimSpace(d.UserID) == "" {
		return fmt.Errorf("validate deliverable: missing user id")
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("validate deliverable: missing title")
	}
	if _, err := ParseType(string(d.Type)); err != nil {
		return fmt.Errorf("validate deliverable: %w", err)
	}
	if err := d.Schedule.Validate(); err != nil {
		return fmt.Errorf("validate deliverable: %w", err)
	}
	if len(d.Sources) == 0 {
		return fmt.Errorf("validate deliverable: at least one source required")
	}
	for i, src := range d.Sources {
		if err := validateSource(src); err != nil {
			return fmt.Errorf("validate deliverable: source %d: %w", i, err)
		}
	}
	switch d.Destination.Type {
	case DestTelegram, DestWebhook:
		if strings.TrimSpace(d.Destination.Target) == "" {
			return fmt.Errorf("validate deliverable: destination %s requires a target", d.Destination.Type)
		}
	case DestLog:
	default:
		return fmt.Errorf("validate deliverable: unknown destination type: %q", d.Destination.Type)
	}
	return nil
}

func validateSource(src Source) error {
	switch src.Type {
	case SourceURL:
		if strings.TrimSpace(src.URL) == "" {
			return fmt.Errorf("url source requires url")
		}
	case SourceDescription:
		if strings.TrimSpace(src.Text) == "" {
			return fmt.Errorf("description source requires text")
		}
	case SourceIntegrationImport:
		if strings.TrimSpace(src.Provider) == "" || strings.TrimSpace(src.Source) == "" {
			return fmt.Errorf("integration source requires provider and source id")
		}
	default:
		return fmt.Errorf("unknown source type: %q", src.Type)
	}

	switch src.Scope.Mode {
	case ScopeDelta:
		if src.Scope.FallbackDays <= 0 {
			return fmt.Errorf("delta scope requires fallbackDays > 0")
		}
	case ScopeFixedWindow:
		if src.Scope.RecencyDays <= 0 {
			return fmt.Errorf("fixed_window scope requires recencyDays > 0")
		}
	default:
		return fmt.Errorf("unknown scope mode: %q", src.Scope.Mode)
	}
	if src.Scope.MaxItems < 0 {
		return fmt.Errorf("maxItems must be >= 0")
	}
	return nil
}

// VersionStatus is the version state machine state.
type VersionStatus string

const (
	VersionGenerating VersionStatus = "generating"
	VersionStaged     VersionStatus = "staged"
	VersionReviewing  VersionStatus = "reviewing"
	VersionApproved   VersionStatus = "approved"
	VersionRejected   VersionStatus = "rejected"
	VersionFailed     VersionStatus = "failed"
)

// Terminal reports whether a version can never change state again.
func (s VersionStatus) Terminal() bool {
	return s == VersionApproved || s == VersionRejected || s == VersionFailed
}

// Version is one generated attempt for a deliverable.
type Version struct {
	ID                string
	DeliverableID     string
	UserID            string
	VersionNumber     int
	Status            VersionStatus
	DraftContent      string
	FinalContent      string
	FeedbackNotes     string
	EditDistanceScore float64
	FetchSummary      *FetchSummary
	CreatedAt         time.Time
	StagedAt          time.Time
	ApprovedAt        time.Time
	UpdatedAt         time.Time
}

// EffectiveContent is what gets delivered: the user's edit when present,
// otherwise the draft.
func (v *Version) EffectiveContent() string {
	if strings.TrimSpace(v.FinalContent) != "" {
		return v.FinalContent
	}
	return v.DraftContent
}

// FetchSummary reports how source extraction went for a run. Partial source
// failure is metadata on a successful run, not a failed run.
type FetchSummary struct {
	SourcesTotal     int       `json:"sources_total"`
	SourcesSucceeded int       `json:"sources_succeeded"`
	SourcesFailed    int       `json:"sources_failed"`
	DeltaModeUsed    bool      `json:"delta_mode_used"`
	Truncated        bool      `json:"truncated"`
	TimeRangeStart   time.Time `json:"time_range_start"`
	TimeRangeEnd     time.Time `json:"time_range_end"`
	FailedSources    []string  `json:"failed_sources,omitempty"`
}
