package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/insightstack/assist-sentinel/internal/models"
	"github.com/insightstack/assist-sentinel/internal/utils"
)

// UpsertForSource promotes or refreshes the single active insight for a
// source. The partial unique index on (tenant, source_kind, source_id) over
// active statuses is the dedup enforcement; the conflict branch merges the
// proposal into the existing row (severity keeps the maximum, evidence is
// replaced with the latest snapshot). Returns the stored insight and whether
// a new row was created.
func (s *Store) UpsertForSource(ctx context.Context, proposed models.Insight) (models.Insight, bool, error) {
	if proposed.TenantID == "" || proposed.SourceKind == "" || proposed.SourceID == "" {
		return models.Insight{}, false, fmt.Errorf("insight missing tenant, source kind, or source id")
	}

	now := time.Now()
	if proposed.ID == "" {
		proposed.ID = uuid.NewString()
	}
	evidence, err := json.Marshal(proposed.Evidence)
	if err != nil {
		return models.Insight{}, false, fmt.Errorf("encode evidence: %w", err)
	}

	var (
		stored  models.Insight
		created bool
	)
	err = s.withWriteTx(ctx, "upsert insight", func(tx *sql.Tx) error {
		// The pre-select only informs the created flag; uniqueness is still
		// enforced by the index inside the upsert below.
		var existingID string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM insights
			WHERE tenant_id = ? AND source_kind = ? AND source_id = ?
				AND status IN ('new', 'acknowledged')
		`, proposed.TenantID, proposed.SourceKind, proposed.SourceID).Scan(&existingID)
		switch {
		case err == sql.ErrNoRows:
			created = true
		case err != nil:
			return err
		default:
			created = false
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO insights
				(id, tenant_id, source_kind, source_id, severity, category, title,
				 description, recommended_action, evidence, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'new', ?, ?)
			ON CONFLICT(tenant_id, source_kind, source_id) WHERE status IN ('new', 'acknowledged')
			DO UPDATE SET
				severity = MAX(severity, excluded.severity),
				category = excluded.category,
				title = excluded.title,
				description = excluded.description,
				recommended_action = excluded.recommended_action,
				evidence = excluded.evidence,
				updated_at = excluded.updated_at
		`, proposed.ID, proposed.TenantID, proposed.SourceKind, proposed.SourceID,
			proposed.Severity.Rank(), proposed.Category, proposed.Title,
			proposed.Description, proposed.RecommendedAction, string(evidence),
			toNanos(now), toNanos(now))
		if err != nil {
			return err
		}

		queryID := proposed.ID
		if !created {
			queryID = existingID
		}
		stored, err = scanInsight(tx.QueryRowContext(ctx, selectInsight+" WHERE id = ?", queryID))
		return err
	})
	if err != nil {
		return models.Insight{}, false, err
	}
	return stored, created, nil
}

// GetInsight fetches one insight by id or ErrNotFound.
func (s *Store) GetInsight(ctx context.Context, id string) (models.Insight, error) {
	insight, err := scanInsight(s.db.QueryRowContext(ctx, selectInsight+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return models.Insight{}, utils.ErrNotFound
	}
	return insight, err
}

// ActiveInsightForSource returns the active insight for a source, if any.
func (s *Store) ActiveInsightForSource(ctx context.Context, tenantID, sourceKind, sourceID string) (models.Insight, error) {
	insight, err := scanInsight(s.db.QueryRowContext(ctx, selectInsight+`
		WHERE tenant_id = ? AND source_kind = ? AND source_id = ?
			AND status IN ('new', 'acknowledged')
	`, tenantID, sourceKind, sourceID))
	if err == sql.ErrNoRows {
		return models.Insight{}, utils.ErrNotFound
	}
	return insight, err
}

// ListInsights returns insights matching the filter, newest update first.
func (s *Store) ListInsights(ctx context.Context, filter models.InsightFilter) ([]models.Insight, error) {
	query := selectInsight + " WHERE 1=1"
	var args []any
	if filter.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, filter.TenantID)
	}
	if filter.Severity != "" {
		query += " AND severity >= ?"
		args = append(args, filter.Severity.Rank())
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	query += " ORDER BY updated_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var insights []models.Insight
	for rows.Next() {
		insight, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, insight)
	}
	return insights, rows.Err()
}

// InsightsTouchedBetween returns insights created or updated in [start, end),
// for report aggregation.
func (s *Store) InsightsTouchedBetween(ctx context.Context, tenantID string, start, end time.Time) ([]models.Insight, error) {
	rows, err := s.db.QueryContext(ctx, selectInsight+`
		WHERE tenant_id = ?
			AND ((created_at >= ? AND created_at < ?) OR (updated_at >= ? AND updated_at < ?))
		ORDER BY severity DESC, updated_at DESC
	`, tenantID, toNanos(start), toNanos(end), toNanos(start), toNanos(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var insights []models.Insight
	for rows.Next() {
		insight, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, insight)
	}
	return insights, rows.Err()
}

var allowedTransitions = map[models.InsightStatus][]models.InsightStatus{
	models.InsightNew:          {models.InsightAcknowledged, models.InsightAddressed, models.InsightDismissed},
	models.InsightAcknowledged: {models.InsightAddressed, models.InsightDismissed},
	models.InsightAddressed:    {},
	models.InsightDismissed:    {},
}

// TransitionStatus moves an insight through its forward-only state machine:
// new -> acknowledged -> addressed, with dismissed reachable from new or
// acknowledged only. Invalid transitions return ErrInvalidStateTransition
// and leave the row unchanged. Closing transitions release the backing
// signal record so a later recurrence can promote a fresh insight.
func (s *Store) TransitionStatus(ctx context.Context, id string, newStatus models.InsightStatus, actor, note string) (models.Insight, error) {
	var updated models.Insight
	err := s.withWriteTx(ctx, "transition insight status", func(tx *sql.Tx) error {
		current, err := scanInsight(tx.QueryRowContext(ctx, selectInsight+" WHERE id = ?", id))
		if err == sql.ErrNoRows {
			return utils.ErrNotFound
		}
		if err != nil {
			return err
		}

		if !transitionAllowed(current.Status, newStatus) {
			return fmt.Errorf("%w: %s -> %s", utils.ErrInvalidStateTransition, current.Status, newStatus)
		}

		now := time.Now()
		switch newStatus {
		case models.InsightAcknowledged:
			_, err = tx.ExecContext(ctx, `
				UPDATE insights SET status = ?, acknowledged_at = ?, acknowledged_by = ?, updated_at = ?
				WHERE id = ? AND status = ?
			`, string(newStatus), toNanos(now), actor, toNanos(now), id, string(current.Status))
		case models.InsightAddressed, models.InsightDismissed:
			_, err = tx.ExecContext(ctx, `
				UPDATE insights SET status = ?, resolved_at = ?, resolved_by = ?, resolution_note = ?, updated_at = ?
				WHERE id = ? AND status = ?
			`, string(newStatus), toNanos(now), actor, note, toNanos(now), id, string(current.Status))
		default:
			return fmt.Errorf("%w: %s -> %s", utils.ErrInvalidStateTransition, current.Status, newStatus)
		}
		if err != nil {
			return err
		}

		if newStatus == models.InsightAddressed || newStatus == models.InsightDismissed {
			signalStatus := models.SignalAddressed
			if newStatus == models.InsightDismissed {
				signalStatus = models.SignalDismissed
			}
			if kind, ok := detectorKindForSource(current.SourceKind); ok {
				if _, err := tx.ExecContext(ctx, `
					UPDATE signal_records SET status = ?
					WHERE tenant_id = ? AND detector_kind = ? AND grouping_key = ?
				`, string(signalStatus), current.TenantID, string(kind), current.SourceID); err != nil {
					return err
				}
			}
		}

		updated, err = scanInsight(tx.QueryRowContext(ctx, selectInsight+" WHERE id = ?", id))
		return err
	})
	if err != nil {
		return models.Insight{}, err
	}
	return updated, nil
}

func transitionAllowed(from, to models.InsightStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func detectorKindForSource(sourceKind string) (models.DetectorKind, bool) {
	switch sourceKind {
	case models.SourceRepeatedQuestion:
		return models.KindRepetition, true
	case models.SourceAnswerConcentration:
		return models.KindConcentration, true
	case models.SourceSentimentDrift:
		return models.KindSentiment, true
	}
	return "", false
}

const selectInsight = `
	SELECT id, tenant_id, source_kind, source_id, severity, category, title,
	       description, recommended_action, evidence, status, created_at, updated_at,
	       acknowledged_at, acknowledged_by, resolved_at, resolved_by, resolution_note
	FROM insights`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInsight(row rowScanner) (models.Insight, error) {
	var (
		insight              models.Insight
		severityRank         int
		evidenceJSON, status string
		createdAt, updatedAt int64
		ackAt, resAt         sql.NullInt64
	)
	err := row.Scan(&insight.ID, &insight.TenantID, &insight.SourceKind, &insight.SourceID,
		&severityRank, &insight.Category, &insight.Title, &insight.Description,
		&insight.RecommendedAction, &evidenceJSON, &status, &createdAt, &updatedAt,
		&ackAt, &insight.AcknowledgedBy, &resAt, &insight.ResolvedBy, &insight.ResolutionNote)
	if err != nil {
		return models.Insight{}, err
	}
	insight.Severity = models.SeverityFromRank(severityRank)
	insight.Status = models.InsightStatus(status)
	insight.CreatedAt = fromNanos(createdAt)
	insight.UpdatedAt = fromNanos(updatedAt)
	insight.AcknowledgedAt = scanNullableTime(ackAt)
	insight.ResolvedAt = scanNullableTime(resAt)
	if evidenceJSON != "" && evidenceJSON != "{}" {
		if err := json.Unmarshal([]byte(evidenceJSON), &insight.Evidence); err != nil {
			return models.Insight{}, fmt.Errorf("decode evidence: %w", err)
		}
	}
	return insight, nil
}
