package store

import (
	"context"
	"fmt"
)

var tickTables = []string{"forex_ticks", "crypto_ticks"}

// EnsureSchema creates the tick tables and their hypertables when missing.
// Continuous aggregates are provisioned by migrations, not here.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, table := range tickTables {
		createSQL := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				time      TIMESTAMPTZ      NOT NULL,
				symbol    TEXT             NOT NULL,
				bid       DOUBLE PRECISION NOT NULL,
				ask       DOUBLE PRECISION NOT NULL,
				bid_size  BIGINT           NOT NULL DEFAULT 0,
				ask_size  BIGINT           NOT NULL DEFAULT 0,
				source    TEXT             NOT NULL DEFAULT '',
				UNIQUE (symbol, time)
			)`, table)
		if _, err := s.db.Exec(ctx, createSQL); err != nil {
			return fmt.Errorf("creating %s: %w", table, err)
		}

		hyperSQL := fmt.Sprintf(
			`SELECT create_hypertable('%s', 'time', if_not_exists => TRUE)`, table)
		if _, err := s.db.Exec(ctx, hyperSQL); err != nil {
			return fmt.Errorf("converting %s to hypertable: %w", table, err)
		}
	}
	return nil
}
