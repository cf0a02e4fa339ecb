package pgshipments

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/bartoszx/doordrop/internal/errkind"
	"github.com/bartoszx/doordrop/internal/models"
)

// UpsertDiscovered inserts a fresh active row for code. Rediscovery of a
// known code is a no-op: an already consumed shipment must never be
// re-armed by the same email showing up again.
func (s *Storage) UpsertDiscovered(ctx context.Context, code string) (created bool, err error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO shipments (code, discovered_at, active)
VALUES ($1, $2, TRUE)
ON CONFLICT (code) DO NOTHING
`, code, time.Now().UTC())
	if err != nil {
		return false, errkind.Storage(errors.Wrap(err, "upsert shipment"))
	}
	return tag.RowsAffected() == 1, nil
}

// LookupActive reports whether code exists and has not been consumed yet.
func (s *Storage) LookupActive(ctx context.Context, code string) (bool, error) {
	var active bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM shipments WHERE code = $1 AND active)
`, code).Scan(&active)
	if err != nil {
		return false, errkind.Storage(errors.Wrap(err, "lookup shipment"))
	}
	return active, nil
}

// Consume flips code to inactive in a single conditional update and reports
// whether this call was the one that flipped it. Two concurrent
// presentations of the same code cannot both see consumed=true: the row
// condition `AND active` lets exactly one update through.
func (s *Storage) Consume(ctx context.Context, code string, now time.Time) (consumed bool, err error) {
	tag, err := s.db.Exec(ctx, `
UPDATE shipments SET active = FALSE, consumed_at = $2
WHERE code = $1 AND active
`, code, now.UTC())
	if err != nil {
		return false, errkind.Storage(errors.Wrap(err, "consume shipment"))
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) ActiveCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM shipments WHERE active`).Scan(&n)
	if err != nil {
		return 0, errkind.Storage(errors.Wrap(err, "count active shipments"))
	}
	return n, nil
}

// RecentShipments lists the newest rows for the ops endpoint.
func (s *Storage) RecentShipments(ctx context.Context, limit int) ([]*models.Shipment, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
SELECT code, discovered_at, active, consumed_at
FROM shipments
ORDER BY discovered_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, errkind.Storage(errors.Wrap(err, "select shipments"))
	}
	defer rows.Close()

	out := make([]*models.Shipment, 0, limit)
	for rows.Next() {
		var sh models.Shipment
		var consumedAt *time.Time
		if err := rows.Scan(&sh.Code, &sh.DiscoveredAt, &sh.Active, &consumedAt); err != nil {
			return nil, errkind.Storage(errors.Wrap(err, "scan shipment"))
		}
		sh.ConsumedAt = consumedAt
		out = append(out, &sh)
	}
	if rows.Err() != nil {
		return nil, errkind.Storage(errors.Wrap(rows.Err(), "rows"))
	}
	return out, nil
}
