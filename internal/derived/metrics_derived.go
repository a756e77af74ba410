package derived

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ergowatch/watcher/internal/model"
)

// applyMetricsForward updates mtr.* aggregates incrementally from the
// committed header. Address-count/distribution snapshots are sampled
// every snapshotInterval blocks. No mtr.sigmausd or mtr.oracle_pools rows
// are written: the flags set by WithSigmaUSD/WithOraclePools are stored on
// the Engine but not read here, and no contract addresses are configured.
func (e *Engine) applyMetricsForward(ctx context.Context, tx pgx.Tx, h model.Header) error {
	if e.snapshotInterval > 0 && h.Height%e.snapshotInterval == 0 {
		if err := snapshotAddressCount(ctx, tx, h.Height); err != nil {
			return err
		}
		if err := snapshotSupplyDistribution(ctx, tx, h.Height); err != nil {
			return err
		}
	}
	return nil
}

// revertMetrics deletes every mtr.* row whose height equals the reverted
// header's height.
func (e *Engine) revertMetrics(ctx context.Context, tx pgx.Tx, height int64) error {
	stmts := []string{
		`DELETE FROM mtr.address_counts WHERE height = $1`,
		`DELETE FROM mtr.supply_distribution WHERE height = $1`,
		`DELETE FROM mtr.sigmausd WHERE height = $1`,
		`DELETE FROM mtr.oracle_pools WHERE height = $1`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt, height); err != nil {
			return fmt.Errorf("reverting metrics at height %d: %w", height, err)
		}
	}
	return nil
}

func snapshotAddressCount(ctx context.Context, tx pgx.Tx, height int64) error {
	var total int64
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM bal.erg`).Scan(&total); err != nil {
		return fmt.Errorf("counting addresses at height %d: %w", height, err)
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO mtr.address_counts (height, total) VALUES ($1, $2)
		 ON CONFLICT (height) DO UPDATE SET total = EXCLUDED.total`,
		height, total,
	)
	if err != nil {
		return fmt.Errorf("writing address count snapshot at height %d: %w", height, err)
	}
	return nil
}

// distributionBins are the fixed ERG-balance buckets this watcher
// classifies addresses into, expressed in nanoERG (1 ERG = 1e9 nanoERG).
var distributionBins = []struct {
	name string
	min  int64
	max  int64 // exclusive upper bound; 0 means unbounded
}{
	{"0_1", 0, 1_000_000_000},
	{"1_10", 1_000_000_000, 10_000_000_000},
	{"10_100", 10_000_000_000, 100_000_000_000},
	{"100_1000", 100_000_000_000, 1_000_000_000_000},
	{"1000_plus", 1_000_000_000_000, 0},
}

func snapshotSupplyDistribution(ctx context.Context, tx pgx.Tx, height int64) error {
	for _, bin := range distributionBins {
		var count int64
		var err error
		if bin.max == 0 {
			err = tx.QueryRow(ctx, `SELECT count(*) FROM bal.erg WHERE value >= $1`, bin.min).Scan(&count)
		} else {
			err = tx.QueryRow(ctx, `SELECT count(*) FROM bal.erg WHERE value >= $1 AND value < $2`, bin.min, bin.max).Scan(&count)
		}
		if err != nil {
			return fmt.Errorf("counting distribution bin %s at height %d: %w", bin.name, height, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO mtr.supply_distribution (height, bin, address_count) VALUES ($1, $2, $3)
			 ON CONFLICT (height, bin) DO UPDATE SET address_count = EXCLUDED.address_count`,
			height, bin.name, count,
		)
		if err != nil {
			return fmt.Errorf("writing distribution bin %s at height %d: %w", bin.name, height, err)
		}
	}
	return nil
}
