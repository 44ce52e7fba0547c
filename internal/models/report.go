package models

import "time"

// ReportStatus is the delivery state of a digest report.
type ReportStatus string

const (
	ReportDraft  ReportStatus = "draft"
	ReportSent   ReportStatus = "sent"
	ReportFailed ReportStatus = "failed"
)

// ReportSummary carries the per-severity counts included in a digest.
type ReportSummary struct {
	Total      int `json:"total"`
	Critical   int `json:"critical"`
	High       int `json:"high"`
	Medium     int `json:"medium"`
	Low        int `json:"low"`
	NewInRange int `json:"new_in_range"`
}

// Report is the per-tenant per-period digest rolled up from the insight ledger.
// Exactly one row exists per (tenant, period start); once sent only the
// delivery fields may change.
type Report struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	PeriodStart   time.Time     `json:"period_start"`
	PeriodEnd     time.Time     `json:"period_end"`
	Body          string        `json:"body"`
	Summary       ReportSummary `json:"summary"`
	InsightIDs    []string      `json:"insight_ids"`
	Status        ReportStatus  `json:"status"`
	DeliveryError string        `json:"delivery_error,omitempty"`
	GeneratedAt   time.Time     `json:"generated_at"`
	SentAt        *time.Time    `json:"sent_at,omitempty"`
}
