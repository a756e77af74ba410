// Package derived implements the Derived-State Engine (C4): incremental
// balance diffs, the unspent-box set, and roll-up statistics, applied in
// the same DB transaction as the corresponding core.* commit/revert.
package derived

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ergowatch/watcher/internal/log"
	"github.com/ergowatch/watcher/internal/model"
)

var logger = log.New("derived")

// Engine owns the bal.*/usp.*/mtr.* writers. Metrics feature flags come
// from the flat config keys metrics.sigmausd_enabled and
// metrics.oracle_pools_enabled; nested [metrics.sigmausd] /
// [metrics.oracle_pools] tables are not read.
type Engine struct {
	sigmaUSDEnabled    bool
	oraclePoolsEnabled bool
	snapshotInterval   int64
}

// Option configures an Engine.
type Option func(*Engine)

func WithSigmaUSD(enabled bool) Option     { return func(e *Engine) { e.sigmaUSDEnabled = enabled } }
func WithOraclePools(enabled bool) Option  { return func(e *Engine) { e.oraclePoolsEnabled = enabled } }
func WithSnapshotInterval(n int64) Option  { return func(e *Engine) { e.snapshotInterval = n } }

// New builds an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{snapshotInterval: 1000}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyForward applies one freshly-committed block's effect on bal.*,
// usp.* and mtr.*. It must run in the same transaction core.Persister used
// to commit batch, after the core.* rows are visible (core rows are
// inserted before this is called, so lookups against core.outputs within
// tx see the current block's own new rows).
func (e *Engine) ApplyForward(ctx context.Context, tx pgx.Tx, batch *model.BlockBatch) error {
	diffs, tokenDiffs, err := computeForwardDiffs(ctx, tx, batch)
	if err != nil {
		return fmt.Errorf("computing diffs for header %s: %w", batch.Header.ID, err)
	}

	for _, d := range diffs {
		if err := insertErgDiff(ctx, tx, d); err != nil {
			return err
		}
		if err := upsertErgBalance(ctx, tx, d.Address, d.Value); err != nil {
			return err
		}
	}
	for _, d := range tokenDiffs {
		if err := insertTokenDiff(ctx, tx, d); err != nil {
			return err
		}
		if err := upsertTokenBalance(ctx, tx, d.Address, d.TokenID, d.Value); err != nil {
			return err
		}
	}

	if err := applyUnspentForward(ctx, tx, batch); err != nil {
		return err
	}

	// Metrics aggregates apply last within the transaction: ordering
	// relative to balances is otherwise unconstrained, so this engine
	// always applies them last.
	if err := e.applyMetricsForward(ctx, tx, batch.Header); err != nil {
		return err
	}

	return nil
}

// ApplyRevert undoes one header's effect on bal.*, usp.* and mtr.*. It must
// run before core.Persister.Revert deletes the header's core.* rows, in
// the same transaction, since it needs to read them.
func (e *Engine) ApplyRevert(ctx context.Context, tx pgx.Tx, headerID string) error {
	height, err := headerHeight(ctx, tx, headerID)
	if err != nil {
		return fmt.Errorf("looking up height for header %s: %w", headerID, err)
	}

	ergDiffs, err := readErgDiffs(ctx, tx, height)
	if err != nil {
		return err
	}
	for _, d := range ergDiffs {
		if err := upsertErgBalance(ctx, tx, d.Address, -d.Value); err != nil {
			return err
		}
	}

	tokenDiffs, err := readTokenDiffs(ctx, tx, height)
	if err != nil {
		return err
	}
	for _, d := range tokenDiffs {
		if err := upsertTokenBalance(ctx, tx, d.Address, d.TokenID, -d.Value); err != nil {
			return err
		}
	}

	if err := applyUnspentRevert(ctx, tx, headerID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM bal.erg_diffs WHERE height = $1`, height); err != nil {
		return fmt.Errorf("deleting erg_diffs at height %d: %w", height, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM bal.tokens_diffs WHERE height = $1`, height); err != nil {
		return fmt.Errorf("deleting tokens_diffs at height %d: %w", height, err)
	}

	if err := e.revertMetrics(ctx, tx, height); err != nil {
		return err
	}

	return nil
}

func headerHeight(ctx context.Context, tx pgx.Tx, headerID string) (int64, error) {
	var height int64
	err := tx.QueryRow(ctx, `SELECT height FROM core.headers WHERE id = $1`, headerID).Scan(&height)
	return height, err
}
