package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickyjs1955/wandr-sub001/internal/reid"
)

// WriteAssociations persists one batch of association audit records in a
// single transaction. Records are content-addressed by (from, to) and
// upserted, so re-running a batch with identical inputs is idempotent.
// Implements reid.AssociationSink.
func (s *Store) WriteAssociations(ctx context.Context, mallID string, batch []reid.Association) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin association write: %w", err)
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO associations (
			mall_id, from_tracklet_id, to_tracklet_id, decision,
			final_score, subscores_json, components_json, candidate_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, UNIXEPOCH('subsec'), UNIXEPOCH('subsec'))
		ON CONFLICT(to_tracklet_id, from_tracklet_id) DO UPDATE SET
			decision = excluded.decision,
			final_score = excluded.final_score,
			subscores_json = excluded.subscores_json,
			components_json = excluded.components_json,
			candidate_count = excluded.candidate_count,
			updated_at = UNIXEPOCH('subsec')`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare association write: %w", err)
	}
	defer stmt.Close()

	for i := range batch {
		a := &batch[i]
		subJSON, err := json.Marshal(a.Subscores)
		if err != nil {
			return fmt.Errorf("encode subscores %s->%s: %w", a.FromTrackletID, a.ToTrackletID, err)
		}
		compJSON, err := json.Marshal(a.Components)
		if err != nil {
			return fmt.Errorf("encode components %s->%s: %w", a.FromTrackletID, a.ToTrackletID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			mallID, a.FromTrackletID, a.ToTrackletID, string(a.Decision),
			a.FinalScore, string(subJSON), string(compJSON), a.CandidateCount); err != nil {
			return fmt.Errorf("write association %s->%s: %w", a.FromTrackletID, a.ToTrackletID, err)
		}
	}
	return tx.Commit()
}

// AssociationsByDecision returns the stored associations for a mall and
// decision kind, newest first. Used by audit tooling and tests.
func (s *Store) AssociationsByDecision(ctx context.Context, mallID string, decision reid.Decision, limit int) ([]reid.Association, error) {
	const q = `
		SELECT from_tracklet_id, to_tracklet_id, decision, final_score,
		       subscores_json, components_json, candidate_count
		FROM associations
		WHERE mall_id = ? AND decision = ?
		ORDER BY updated_at DESC, to_tracklet_id
		LIMIT ?`

	rows, err := s.DB.QueryContext(ctx, q, mallID, string(decision), limit)
	if err != nil {
		return nil, fmt.Errorf("query associations: %w", err)
	}
	defer rows.Close()

	var out []reid.Association
	for rows.Next() {
		var a reid.Association
		var dec, subJSON, compJSON string
		if err := rows.Scan(&a.FromTrackletID, &a.ToTrackletID, &dec,
			&a.FinalScore, &subJSON, &compJSON, &a.CandidateCount); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		a.Decision = reid.Decision(dec)
		if err := json.Unmarshal([]byte(subJSON), &a.Subscores); err != nil {
			return nil, fmt.Errorf("decode subscores: %w", err)
		}
		if err := json.Unmarshal([]byte(compJSON), &a.Components); err != nil {
			return nil, fmt.Errorf("decode components: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// unixNanosOrNil converts an optional time into a nullable column value.
func unixNanosOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
