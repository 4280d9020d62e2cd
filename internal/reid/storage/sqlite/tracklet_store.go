package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickyjs1955/wandr-sub001/internal/reid"
)

// Fetch returns the tracklets whose observation starts inside [from, to)
// for one mall. Implements reid.TrackletSource.
func (s *Store) Fetch(ctx context.Context, mallID string, from, to time.Time) ([]reid.Tracklet, error) {
	const q = `
		SELECT tracklet_id, mall_id, pin_id, video_id,
		       t_in_unix_nanos, t_out_unix_nanos,
		       outfit_json, embedding_json,
		       height_category, aspect_ratio, quality, outfit_fingerprint
		FROM tracklets
		WHERE mall_id = ? AND t_in_unix_nanos >= ? AND t_in_unix_nanos < ?
		ORDER BY t_in_unix_nanos, tracklet_id`

	rows, err := s.DB.QueryContext(ctx, q, mallID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query tracklets: %w", err)
	}
	defer rows.Close()

	var out []reid.Tracklet
	for rows.Next() {
		var (
			t                   reid.Tracklet
			tInNanos, tOutNanos int64
			outfitJSON, embJSON string
			heightCategory      string
		)
		if err := rows.Scan(&t.ID, &t.MallID, &t.PinID, &t.VideoID,
			&tInNanos, &tOutNanos, &outfitJSON, &embJSON,
			&heightCategory, &t.Physique.AspectRatio, &t.Quality, &t.OutfitFingerprint); err != nil {
			return nil, fmt.Errorf("scan tracklet: %w", err)
		}
		t.TIn = time.Unix(0, tInNanos).UTC()
		t.TOut = time.Unix(0, tOutNanos).UTC()
		t.Physique.HeightCategory = reid.HeightCategory(heightCategory)
		if err := json.Unmarshal([]byte(outfitJSON), &t.Outfit); err != nil {
			return nil, fmt.Errorf("decode outfit for tracklet %s: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(embJSON), &t.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding for tracklet %s: %w", t.ID, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracklets: %w", err)
	}
	return out, nil
}

// InsertTracklets stores a batch of upstream tracklets, used by ingest
// tooling and test fixtures. Re-inserting the same id overwrites the row,
// matching the upstream contract that tracklets are immutable but may be
// re-delivered.
func (s *Store) InsertTracklets(ctx context.Context, tracklets []reid.Tracklet) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tracklet insert: %w", err)
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO tracklets (
			tracklet_id, mall_id, pin_id, video_id,
			t_in_unix_nanos, t_out_unix_nanos,
			outfit_json, embedding_json,
			height_category, aspect_ratio, quality, outfit_fingerprint
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tracklet_id) DO UPDATE SET
			mall_id = excluded.mall_id,
			pin_id = excluded.pin_id,
			video_id = excluded.video_id,
			t_in_unix_nanos = excluded.t_in_unix_nanos,
			t_out_unix_nanos = excluded.t_out_unix_nanos,
			outfit_json = excluded.outfit_json,
			embedding_json = excluded.embedding_json,
			height_category = excluded.height_category,
			aspect_ratio = excluded.aspect_ratio,
			quality = excluded.quality,
			outfit_fingerprint = excluded.outfit_fingerprint`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare tracklet insert: %w", err)
	}
	defer stmt.Close()

	for i := range tracklets {
		t := &tracklets[i]
		outfitJSON, err := json.Marshal(t.Outfit)
		if err != nil {
			return fmt.Errorf("encode outfit for tracklet %s: %w", t.ID, err)
		}
		embJSON, err := json.Marshal(t.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding for tracklet %s: %w", t.ID, err)
		}
		fingerprint := t.OutfitFingerprint
		if fingerprint == "" {
			fingerprint = t.Outfit.Fingerprint()
		}
		if _, err := stmt.ExecContext(ctx,
			t.ID, t.MallID, t.PinID, t.VideoID,
			t.TIn.UnixNano(), t.TOut.UnixNano(),
			string(outfitJSON), string(embJSON),
			string(t.Physique.HeightCategory), t.Physique.AspectRatio,
			t.Quality, fingerprint); err != nil {
			return fmt.Errorf("insert tracklet %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}
