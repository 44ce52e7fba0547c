package models

import "time"

// Severity captures the ordered risk classification of a finding.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity; unknown values rank as none.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// SeverityFromRank maps a stored ordinal back to its severity.
func SeverityFromRank(rank int) Severity {
	for sev, r := range severityRanks {
		if r == rank {
			return sev
		}
	}
	return SeverityNone
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// InsightStatus is the administrator-facing lifecycle state of an insight.
type InsightStatus string

const (
	InsightNew          InsightStatus = "new"
	InsightAcknowledged InsightStatus = "acknowledged"
	InsightAddressed    InsightStatus = "addressed"
	InsightDismissed    InsightStatus = "dismissed"
)

// Active reports whether the status still counts against the
// at-most-one-active-insight-per-source invariant.
func (s InsightStatus) Active() bool {
	return s == InsightNew || s == InsightAcknowledged
}

// Insight is a promoted, deduplicated finding surfaced to administrators.
// At most one active insight exists per (tenant, source kind, source id).
type Insight struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	SourceKind        string         `json:"source_kind"`
	SourceID          string         `json:"source_id"`
	Severity          Severity       `json:"severity"`
	Category          string         `json:"category,omitempty"`
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	RecommendedAction string         `json:"recommended_action,omitempty"`
	Evidence          map[string]any `json:"evidence,omitempty"`
	Status            InsightStatus  `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	AcknowledgedAt    *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy    string         `json:"acknowledged_by,omitempty"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy        string         `json:"resolved_by,omitempty"`
	ResolutionNote    string         `json:"resolution_note,omitempty"`
}

// Source kinds used as the insight dedup dimension per detector variant.
const (
	SourceRepeatedQuestion    = "repeated_question"
	SourceAnswerConcentration = "answer_concentration"
	SourceSentimentDrift      = "sentiment_drift"
)

// InsightFilter narrows admin listings.
type InsightFilter struct {
	TenantID string
	Severity Severity
	Status   InsightStatus
	Category string
	Limit    int
}
