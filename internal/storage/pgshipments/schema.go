package pgshipments

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bartoszx/doordrop/internal/errkind"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  code TEXT PRIMARY KEY,
  discovered_at TIMESTAMPTZ NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  consumed_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_active ON shipments(active) WHERE active`,
		// consumed_at устанавливается строго в паре с active=false
		`ALTER TABLE shipments DROP CONSTRAINT IF EXISTS chk_shipments_consumed`,
		`ALTER TABLE shipments ADD CONSTRAINT chk_shipments_consumed
  CHECK ((active AND consumed_at IS NULL) OR (NOT active AND consumed_at IS NOT NULL))`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errkind.Storage(errors.Wrap(err, "init schema"))
		}
	}
	return nil
}
