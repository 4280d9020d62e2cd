package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rickyjs1955/wandr-sub001/internal/reid"
)

// Load returns the mall's camera pins with adjacency and transit
// annotations folded in. Implements reid.TopologyRepo.
func (s *Store) Load(ctx context.Context, mallID string) ([]reid.CameraPin, error) {
	const pinQuery = `
		SELECT pin_id, mall_id, name, kind
		FROM camera_pins
		WHERE mall_id = ?
		ORDER BY pin_id`

	rows, err := s.DB.QueryContext(ctx, pinQuery, mallID)
	if err != nil {
		return nil, fmt.Errorf("query camera pins: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*reid.CameraPin)
	var order []string
	for rows.Next() {
		var pin reid.CameraPin
		var kind string
		if err := rows.Scan(&pin.ID, &pin.MallID, &pin.Name, &kind); err != nil {
			return nil, fmt.Errorf("scan camera pin: %w", err)
		}
		pin.Kind = reid.PinKind(kind)
		byID[pin.ID] = &pin
		order = append(order, pin.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate camera pins: %w", err)
	}

	const adjQuery = `
		SELECT from_pin, to_pin, distance_m, mu_sec, tau_sec
		FROM pin_adjacency
		WHERE mall_id = ?
		ORDER BY from_pin, to_pin`

	adjRows, err := s.DB.QueryContext(ctx, adjQuery, mallID)
	if err != nil {
		return nil, fmt.Errorf("query pin adjacency: %w", err)
	}
	defer adjRows.Close()

	for adjRows.Next() {
		var from, to string
		var distance, mu, tau sql.NullFloat64
		if err := adjRows.Scan(&from, &to, &distance, &mu, &tau); err != nil {
			return nil, fmt.Errorf("scan pin adjacency: %w", err)
		}
		pin, ok := byID[from]
		if !ok {
			return nil, fmt.Errorf("adjacency references unknown pin %s", from)
		}
		pin.AdjacentTo = append(pin.AdjacentTo, to)
		if mu.Valid && tau.Valid {
			if pin.Transit == nil {
				pin.Transit = make(map[string]reid.TransitParams)
			}
			pin.Transit[to] = reid.TransitParams{MuSec: mu.Float64, TauSec: tau.Float64}
		}
		if distance.Valid {
			if pin.DistanceM == nil {
				pin.DistanceM = make(map[string]float64)
			}
			pin.DistanceM[to] = distance.Float64
		}
	}
	if err := adjRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pin adjacency: %w", err)
	}

	pins := make([]reid.CameraPin, 0, len(order))
	for _, id := range order {
		pins = append(pins, *byID[id])
	}
	return pins, nil
}

// InsertPins stores a mall topology: pins plus directed adjacency rows.
// Adjacency is stored in both directions; the core validates symmetry at
// index build time.
func (s *Store) InsertPins(ctx context.Context, pins []reid.CameraPin) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin pin insert: %w", err)
	}
	defer tx.Rollback()

	pinStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO camera_pins (pin_id, mall_id, name, kind) VALUES (?, ?, ?, ?)
		ON CONFLICT(pin_id) DO UPDATE SET
			mall_id = excluded.mall_id,
			name = excluded.name,
			kind = excluded.kind`)
	if err != nil {
		return fmt.Errorf("prepare pin insert: %w", err)
	}
	defer pinStmt.Close()

	adjStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pin_adjacency (mall_id, from_pin, to_pin, distance_m, mu_sec, tau_sec)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_pin, to_pin) DO UPDATE SET
			distance_m = excluded.distance_m,
			mu_sec = excluded.mu_sec,
			tau_sec = excluded.tau_sec`)
	if err != nil {
		return fmt.Errorf("prepare adjacency insert: %w", err)
	}
	defer adjStmt.Close()

	for i := range pins {
		pin := &pins[i]
		if _, err := pinStmt.ExecContext(ctx, pin.ID, pin.MallID, pin.Name, string(pin.Kind)); err != nil {
			return fmt.Errorf("insert pin %s: %w", pin.ID, err)
		}
	}
	for i := range pins {
		pin := &pins[i]
		for _, nb := range pin.AdjacentTo {
			var distance, mu, tau interface{}
			if d, ok := pin.DistanceM[nb]; ok {
				distance = d
			}
			if tp, ok := pin.Transit[nb]; ok {
				mu = tp.MuSec
				tau = tp.TauSec
			}
			if _, err := adjStmt.ExecContext(ctx, pin.MallID, pin.ID, nb, distance, mu, tau); err != nil {
				return fmt.Errorf("insert adjacency %s->%s: %w", pin.ID, nb, err)
			}
		}
	}
	return tx.Commit()
}
