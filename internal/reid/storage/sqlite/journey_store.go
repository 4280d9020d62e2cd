package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickyjs1955/wandr-sub001/internal/reid"
)

// WriteJourneys persists one batch of journeys in a single transaction.
// Journey ids are deterministic, so re-running a batch upserts in place.
// Implements reid.JourneySink.
func (s *Store) WriteJourneys(ctx context.Context, batch []reid.Journey) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin journey write: %w", err)
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO journeys (
			journey_id, visitor_id, mall_id, entry_point, exit_point,
			entry_time_unix_nanos, exit_time_unix_nanos,
			path_json, confidence, outfit_summary_json, closed,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, UNIXEPOCH('subsec'), UNIXEPOCH('subsec'))
		ON CONFLICT(journey_id) DO UPDATE SET
			visitor_id = excluded.visitor_id,
			entry_point = excluded.entry_point,
			exit_point = excluded.exit_point,
			entry_time_unix_nanos = excluded.entry_time_unix_nanos,
			exit_time_unix_nanos = excluded.exit_time_unix_nanos,
			path_json = excluded.path_json,
			confidence = excluded.confidence,
			outfit_summary_json = excluded.outfit_summary_json,
			closed = excluded.closed,
			updated_at = UNIXEPOCH('subsec')`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare journey write: %w", err)
	}
	defer stmt.Close()

	for i := range batch {
		j := &batch[i]
		pathJSON, err := json.Marshal(j.Path)
		if err != nil {
			return fmt.Errorf("encode path for journey %s: %w", j.ID, err)
		}
		outfitJSON, err := json.Marshal(j.Outfit)
		if err != nil {
			return fmt.Errorf("encode outfit summary for journey %s: %w", j.ID, err)
		}
		var exitPoint interface{}
		if j.ExitPoint != nil {
			exitPoint = *j.ExitPoint
		}
		closed := 0
		if j.Closed {
			closed = 1
		}
		if _, err := stmt.ExecContext(ctx,
			j.ID, j.VisitorID, j.MallID, j.EntryPoint, exitPoint,
			j.EntryTime.UnixNano(), unixNanosOrNil(j.ExitTime),
			string(pathJSON), j.Confidence, string(outfitJSON), closed); err != nil {
			return fmt.Errorf("write journey %s: %w", j.ID, err)
		}
	}
	return tx.Commit()
}

// JourneysInWindow returns the journeys entering inside [from, to) for a
// mall, in entry-time order. Used by audit tooling and tests.
func (s *Store) JourneysInWindow(ctx context.Context, mallID string, from, to time.Time) ([]reid.Journey, error) {
	const q = `
		SELECT journey_id, visitor_id, mall_id, entry_point, exit_point,
		       entry_time_unix_nanos, exit_time_unix_nanos,
		       path_json, confidence, outfit_summary_json, closed
		FROM journeys
		WHERE mall_id = ? AND entry_time_unix_nanos >= ? AND entry_time_unix_nanos < ?
		ORDER BY entry_time_unix_nanos, journey_id`

	rows, err := s.DB.QueryContext(ctx, q, mallID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query journeys: %w", err)
	}
	defer rows.Close()

	var out []reid.Journey
	for rows.Next() {
		var (
			j          reid.Journey
			exitPoint  sql.NullString
			entryNanos int64
			exitNanos  sql.NullInt64
			pathJSON   string
			outfitJSON string
			closed     int
		)
		if err := rows.Scan(&j.ID, &j.VisitorID, &j.MallID, &j.EntryPoint, &exitPoint,
			&entryNanos, &exitNanos, &pathJSON, &j.Confidence, &outfitJSON, &closed); err != nil {
			return nil, fmt.Errorf("scan journey: %w", err)
		}
		j.EntryTime = time.Unix(0, entryNanos).UTC()
		if exitPoint.Valid {
			v := exitPoint.String
			j.ExitPoint = &v
		}
		if exitNanos.Valid {
			v := time.Unix(0, exitNanos.Int64).UTC()
			j.ExitTime = &v
		}
		j.Closed = closed != 0
		if err := json.Unmarshal([]byte(pathJSON), &j.Path); err != nil {
			return nil, fmt.Errorf("decode path for journey %s: %w", j.ID, err)
		}
		if err := json.Unmarshal([]byte(outfitJSON), &j.Outfit); err != nil {
			return nil, fmt.Errorf("decode outfit summary for journey %s: %w", j.ID, err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
