package models

import "time"

// DetectorKind enumerates the detector variants.
type DetectorKind string

const (
	// KindRepetition groups statistics by question fingerprint.
	KindRepetition DetectorKind = "repetition"
	// KindConcentration groups statistics by topic/category and tracks who answers.
	KindConcentration DetectorKind = "concentration"
	// KindSentiment groups statistics by subject actor and tracks score trends.
	KindSentiment DetectorKind = "sentiment"
)

// SignalStatus is the lifecycle state of a signal record.
type SignalStatus string

const (
	SignalActive    SignalStatus = "active"
	SignalAddressed SignalStatus = "addressed"
	SignalDismissed SignalStatus = "dismissed"
)

// MaxSignalSamples bounds the sample list kept per signal record; the oldest
// sample is dropped first on overflow.
const MaxSignalSamples = 5

// SignalRecord accumulates statistics for one detector variant and grouping key.
// The occurrence count is monotonically non-decreasing while the record is active.
type SignalRecord struct {
	TenantID        string
	DetectorKind    DetectorKind
	GroupingKey     string
	Category        string
	OccurrenceCount int
	ActorIDs        []string
	Samples         []string
	FirstSeen       time.Time
	LastSeen        time.Time
	Status          SignalStatus
}

// Observation is a single statistics update handed to the aggregator.
type Observation struct {
	TenantID     string
	DetectorKind DetectorKind
	GroupingKey  string
	Category     string
	ActorID      string
	Sample       string
	Score        float64
	HasScore     bool
	At           time.Time
}

// ActorCount pairs a responder with the number of answers attributed to them
// inside a trailing window.
type ActorCount struct {
	ActorID string
	Count   int
}

// DailyScore is the average sentiment score for one calendar day.
type DailyScore struct {
	Day   time.Time
	Score float64
}
