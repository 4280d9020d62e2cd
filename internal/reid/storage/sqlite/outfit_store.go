package sqlite

import (
	"context"
	"fmt"
)

// Snapshot returns the frequent-outfit counts for one mall and hour
// bucket, as accumulated by earlier runs. Implements
// reid.FrequentOutfitRepo.
func (s *Store) Snapshot(ctx context.Context, mallID, hourBucket string) (map[string]int, error) {
	const q = `
		SELECT fingerprint, count
		FROM frequent_outfits
		WHERE mall_id = ? AND hour_bucket = ?`

	rows, err := s.DB.QueryContext(ctx, q, mallID, hourBucket)
	if err != nil {
		return nil, fmt.Errorf("query frequent outfits: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var fp string
		var n int
		if err := rows.Scan(&fp, &n); err != nil {
			return nil, fmt.Errorf("scan frequent outfit: %w", err)
		}
		counts[fp] = n
	}
	return counts, rows.Err()
}

// IncrementOutfit bumps the count for one (mall, fingerprint, hour
// bucket). Implements reid.FrequentOutfitSink.
func (s *Store) IncrementOutfit(ctx context.Context, mallID, fingerprint, hourBucket string, by int) error {
	const q = `
		INSERT INTO frequent_outfits (mall_id, fingerprint, hour_bucket, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(mall_id, fingerprint, hour_bucket) DO UPDATE SET
			count = count + excluded.count`

	if _, err := s.DB.ExecContext(ctx, q, mallID, fingerprint, hourBucket, by); err != nil {
		return fmt.Errorf("increment frequent outfit %s@%s: %w", fingerprint, hourBucket, err)
	}
	return nil
}
