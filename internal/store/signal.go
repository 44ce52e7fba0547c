package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/insightstack/assist-sentinel/internal/models"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

// RecordObservation applies one statistics update atomically: the occurrence
// counter is incremented with SQL arithmetic (never overwritten), the actor
// set and bounded sample list are merged, and an observation row is appended
// for trailing-window queries. The whole update runs in a single write
// transaction; concurrent callers for the same grouping key therefore never
// lose increments. Returns the updated record snapshot.
func (s *Store) RecordObservation(ctx context.Context, obs models.Observation) (models.SignalRecord, error) {
	if obs.TenantID == "" || obs.GroupingKey == "" || obs.DetectorKind == "" {
		return models.SignalRecord{}, fmt.Errorf("observation missing tenant, kind, or grouping key")
	}
	at := obs.At
	if at.IsZero() {
		at = time.Now()
	}

	var record models.SignalRecord
	err := s.withWriteTx(ctx, "record observation", func(tx *sql.Tx) error {
		// The counter update is the write that takes the lock; it must be
		// the increment itself, not a read-modify-write from Go.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO signal_records
				(tenant_id, detector_kind, grouping_key, category, occurrence_count, actor_ids, samples, first_seen, last_seen, status)
			VALUES (?, ?, ?, ?, 1, '[]', '[]', ?, ?, 'active')
			ON CONFLICT(tenant_id, detector_kind, grouping_key) DO UPDATE SET
				occurrence_count = occurrence_count + 1,
				last_seen = MAX(last_seen, excluded.last_seen),
				category = CASE WHEN excluded.category != '' THEN excluded.category ELSE category END
		`, obs.TenantID, string(obs.DetectorKind), obs.GroupingKey, obs.Category, toNanos(at), toNanos(at))
		if err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			SELECT category, occurrence_count, actor_ids, samples, first_seen, last_seen, status
			FROM signal_records
			WHERE tenant_id = ? AND detector_kind = ? AND grouping_key = ?
		`, obs.TenantID, string(obs.DetectorKind), obs.GroupingKey)

		var (
			actorsJSON, samplesJSON string
			firstSeen, lastSeen     int64
			status                  string
		)
		record = models.SignalRecord{
			TenantID:     obs.TenantID,
			DetectorKind: obs.DetectorKind,
			GroupingKey:  obs.GroupingKey,
		}
		if err := row.Scan(&record.Category, &record.OccurrenceCount, &actorsJSON, &samplesJSON, &firstSeen, &lastSeen, &status); err != nil {
			return err
		}
		record.FirstSeen = fromNanos(firstSeen)
		record.LastSeen = fromNanos(lastSeen)
		record.Status = models.SignalStatus(status)

		actors, err := mergeActorSet(actorsJSON, obs.ActorID)
		if err != nil {
			return err
		}
		samples, err := appendBoundedSample(samplesJSON, obs.Sample)
		if err != nil {
			return err
		}
		record.ActorIDs = actors
		record.Samples = samples

		mergedActors, _ := json.Marshal(actors)
		mergedSamples, _ := json.Marshal(samples)
		if _, err := tx.ExecContext(ctx, `
			UPDATE signal_records SET actor_ids = ?, samples = ?
			WHERE tenant_id = ? AND detector_kind = ? AND grouping_key = ?
		`, string(mergedActors), string(mergedSamples), obs.TenantID, string(obs.DetectorKind), obs.GroupingKey); err != nil {
			return err
		}

		var score any
		hasScore := 0
		if obs.HasScore {
			score = obs.Score
			hasScore = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO signal_events (tenant_id, detector_kind, grouping_key, actor_id, score, has_score, day, observed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, obs.TenantID, string(obs.DetectorKind), obs.GroupingKey, obs.ActorID, score, hasScore,
			utils.DayOf(at).Format("2006-01-02"), toNanos(at))
		return err
	})
	if err != nil {
		return models.SignalRecord{}, err
	}
	return record, nil
}

// GetSignalRecord fetches one record or ErrNotFound.
func (s *Store) GetSignalRecord(ctx context.Context, tenantID string, kind models.DetectorKind, groupingKey string) (models.SignalRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT category, occurrence_count, actor_ids, samples, first_seen, last_seen, status
		FROM signal_records
		WHERE tenant_id = ? AND detector_kind = ? AND grouping_key = ?
	`, tenantID, string(kind), groupingKey)

	record := models.SignalRecord{TenantID: tenantID, DetectorKind: kind, GroupingKey: groupingKey}
	var (
		actorsJSON, samplesJSON string
		firstSeen, lastSeen     int64
		status                  string
	)
	if err := row.Scan(&record.Category, &record.OccurrenceCount, &actorsJSON, &samplesJSON, &firstSeen, &lastSeen, &status); err != nil {
		if err == sql.ErrNoRows {
			return models.SignalRecord{}, utils.ErrNotFound
		}
		return models.SignalRecord{}, err
	}
	if err := json.Unmarshal([]byte(actorsJSON), &record.ActorIDs); err != nil {
		return models.SignalRecord{}, fmt.Errorf("decode actor set: %w", err)
	}
	if err := json.Unmarshal([]byte(samplesJSON), &record.Samples); err != nil {
		return models.SignalRecord{}, fmt.Errorf("decode samples: %w", err)
	}
	record.FirstSeen = fromNanos(firstSeen)
	record.LastSeen = fromNanos(lastSeen)
	record.Status = models.SignalStatus(status)
	return record, nil
}

// SetSignalStatus moves a signal record's lifecycle status.
func (s *Store) SetSignalStatus(ctx context.Context, tenantID string, kind models.DetectorKind, groupingKey string, status models.SignalStatus) error {
	return s.withWriteTx(ctx, "set signal status", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE signal_records SET status = ?
			WHERE tenant_id = ? AND detector_kind = ? AND grouping_key = ?
		`, string(status), tenantID, string(kind), groupingKey)
		return err
	})
}

// ActorCountsInWindow returns per-actor observation counts plus the first and
// last observation time for a grouping key since windowStart. Backs the
// answer-concentration statistics.
func (s *Store) ActorCountsInWindow(ctx context.Context, tenantID string, kind models.DetectorKind, groupingKey string, windowStart time.Time) ([]models.ActorCount, time.Time, time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor_id, COUNT(*) AS n
		FROM signal_events
		WHERE tenant_id = ? AND detector_kind = ? AND grouping_key = ? AND observed_at >= ?
		GROUP BY actor_id
		ORDER BY n DESC, actor_id
	`, tenantID, string(kind), groupingKey, toNanos(windowStart))
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	defer rows.Close()

	var counts []models.ActorCount
	for rows.Next() {
		var ac models.ActorCount
		if err := rows.Scan(&ac.ActorID, &ac.Count); err != nil {
			return nil, time.Time{}, time.Time{}, err
		}
		counts = append(counts, ac)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, time.Time{}, err
	}

	var first, last sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT MIN(observed_at), MAX(observed_at)
		FROM signal_events
		WHERE tenant_id = ? AND detector_kind = ? AND grouping_key = ? AND observed_at >= ?
	`, tenantID, string(kind), groupingKey, toNanos(windowStart)).Scan(&first, &last)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	var firstAt, lastAt time.Time
	if first.Valid {
		firstAt = fromNanos(first.Int64)
	}
	if last.Valid {
		lastAt = fromNanos(last.Int64)
	}
	return counts, firstAt, lastAt, nil
}

// DailyScoresInWindow returns per-day average scores for a grouping key since
// windowStart, oldest day first. Backs the sentiment statistics.
func (s *Store) DailyScoresInWindow(ctx context.Context, tenantID string, kind models.DetectorKind, groupingKey string, windowStart time.Time) ([]models.DailyScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, AVG(score)
		FROM signal_events
		WHERE tenant_id = ? AND detector_kind = ? AND grouping_key = ?
			AND has_score = 1 AND observed_at >= ?
		GROUP BY day
		ORDER BY day
	`, tenantID, string(kind), groupingKey, toNanos(windowStart))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []models.DailyScore
	for rows.Next() {
		var (
			day   string
			score float64
		)
		if err := rows.Scan(&day, &score); err != nil {
			return nil, err
		}
		parsed, err := time.Parse("2006-01-02", day)
		if err != nil {
			return nil, fmt.Errorf("parse day %q: %w", day, err)
		}
		scores = append(scores, models.DailyScore{Day: parsed, Score: score})
	}
	return scores, rows.Err()
}

// AverageScoreInWindow returns the mean score since windowStart, with ok=false
// when no scored observations exist. Backs the sentiment rolling baseline.
func (s *Store) AverageScoreInWindow(ctx context.Context, tenantID string, kind models.DetectorKind, groupingKey string, windowStart time.Time) (float64, bool, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(score)
		FROM signal_events
		WHERE tenant_id = ? AND detector_kind = ? AND grouping_key = ?
			AND has_score = 1 AND observed_at >= ?
	`, tenantID, string(kind), groupingKey, toNanos(windowStart)).Scan(&avg)
	if err != nil {
		return 0, false, err
	}
	if !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64, true, nil
}

func mergeActorSet(actorsJSON, actorID string) ([]string, error) {
	var actors []string
	if err := json.Unmarshal([]byte(actorsJSON), &actors); err != nil {
		return nil, fmt.Errorf("decode actor set: %w", err)
	}
	if actorID == "" {
		return actors, nil
	}
	for _, a := range actors {
		if a == actorID {
			return actors, nil
		}
	}
	actors = append(actors, actorID)
	sort.Strings(actors)
	return actors, nil
}

func appendBoundedSample(samplesJSON, sample string) ([]string, error) {
	var samples []string
	if err := json.Unmarshal([]byte(samplesJSON), &samples); err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}
	if sample == "" {
		return samples, nil
	}
	samples = append(samples, sample)
	if len(samples) > models.MaxSignalSamples {
		samples = samples[len(samples)-models.MaxSignalSamples:]
	}
	return samples, nil
}
