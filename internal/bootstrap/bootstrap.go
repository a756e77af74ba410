// Package bootstrap implements the Bootstrapper (C6): a one-shot rebuild
// of bal.*/usp.*/mtr.* from an already-populated core.* schema, for the
// case where core.* was seeded out of band (a pg_dump restore, a bulk
// "fast sync") and the derived schemas still need to be built up from it.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ergowatch/watcher/internal/derived"
	"github.com/ergowatch/watcher/internal/log"
	"github.com/ergowatch/watcher/internal/metrics"
	"github.com/ergowatch/watcher/internal/model"
)

var logger = log.New("bootstrap")

// Bootstrapper runs the four-step rebuild. The header walk commits one
// transaction per header rather than holding one long-lived lock for the
// whole walk, so a failure partway through leaves the headers applied so
// far committed; a re-run then stops at validateConstraints, which refuses
// non-empty bal.*/usp.* tables. Re-running after a completed bootstrap is a
// no-op.
type Bootstrapper struct {
	pool               *pgxpool.Pool
	engine             *derived.Engine
	statementTimeoutMs int
}

// New builds a Bootstrapper against pool, driving engine for each header.
// statementTimeoutMs, when positive, is applied as a per-transaction
// Postgres statement_timeout for each header's commit during walkHeaders.
func New(pool *pgxpool.Pool, engine *derived.Engine, statementTimeoutMs int) *Bootstrapper {
	return &Bootstrapper{pool: pool, engine: engine, statementTimeoutMs: statementTimeoutMs}
}

// Run executes the four steps in order: orphan check, constraint
// validation, the header walk, and marking meta.bootstrapped.
func (b *Bootstrapper) Run(ctx context.Context) error {
	done, err := b.alreadyBootstrapped(ctx)
	if err != nil {
		return err
	}
	if done {
		logger.Info("already bootstrapped, nothing to do")
		return nil
	}

	if err := b.checkOrphans(ctx); err != nil {
		return fmt.Errorf("orphan check: %w", err)
	}
	if err := b.validateConstraints(ctx); err != nil {
		return fmt.Errorf("constraint validation: %w", err)
	}
	n, err := b.walkHeaders(ctx)
	if err != nil {
		return fmt.Errorf("walking headers: %w", err)
	}
	if err := b.markComplete(ctx); err != nil {
		return fmt.Errorf("marking bootstrap complete: %w", err)
	}

	metrics.BootstrapRows.Inc(int64(n))
	logger.Info("bootstrap complete", "headers_applied", n)
	return nil
}

func (b *Bootstrapper) alreadyBootstrapped(ctx context.Context) (bool, error) {
	var value string
	err := b.pool.QueryRow(ctx, `SELECT value FROM meta WHERE key = 'bootstrapped'`).Scan(&value)
	if err != nil {
		return false, fmt.Errorf("reading meta.bootstrapped: %w", err)
	}
	return value == "true", nil
}

// checkOrphans verifies structural integrity: every header's parent_id
// exists (or the header is genesis), and every input references an
// output that was actually committed.
func (b *Bootstrapper) checkOrphans(ctx context.Context) error {
	var orphanHeaders int
	err := b.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM core.headers h
		WHERE h.height > 0
		  AND NOT EXISTS (SELECT 1 FROM core.headers p WHERE p.id = h.parent_id)
	`).Scan(&orphanHeaders)
	if err != nil {
		return err
	}
	if orphanHeaders > 0 {
		return fmt.Errorf("%d header(s) reference a missing parent", orphanHeaders)
	}

	var orphanInputs int
	err = b.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM core.inputs i
		WHERE NOT EXISTS (SELECT 1 FROM core.outputs o WHERE o.box_id = i.box_id)
	`).Scan(&orphanInputs)
	if err != nil {
		return err
	}
	if orphanInputs > 0 {
		return fmt.Errorf("%d input(s) reference a missing output", orphanInputs)
	}
	return nil
}

// validateConstraints confirms bal.*/usp.* are empty before the
// walk starts, so a partial prior bootstrap attempt (or stray writes from
// a misconfigured tracker) can't silently double-count balances. The
// migrations this watcher ships always carry core.*'s FK/uniqueness
// constraints, so there is nothing to add here; this step instead
// validates that the schema these constraints protect is actually in the
// expected pre-bootstrap state.
func (b *Bootstrapper) validateConstraints(ctx context.Context) error {
	tables := []string{"bal.erg", "bal.erg_diffs", "bal.tokens", "bal.tokens_diffs", "usp.boxes"}
	for _, table := range tables {
		var count int
		if err := b.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&count); err != nil {
			return fmt.Errorf("checking %s is empty: %w", table, err)
		}
		if count > 0 {
			return fmt.Errorf("%s is not empty (%d rows); refusing to bootstrap over existing derived state", table, count)
		}
	}
	return nil
}

// walkHeaders ascends core.headers from height 0 and applies
// derived.Engine.ApplyForward against each one's already-committed core.*
// rows, rebuilding bal.*/usp.*/mtr.* from scratch. Batched into one
// transaction per header to bound lock/undo size on long chains, the
// same granularity the tracker itself uses per block.
func (b *Bootstrapper) walkHeaders(ctx context.Context) (int, error) {
	rows, err := b.pool.Query(ctx, `SELECT id FROM core.headers ORDER BY height ASC`)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	applied := 0
	for _, id := range ids {
		tx, err := b.pool.Begin(ctx)
		if err != nil {
			return applied, err
		}
		if b.statementTimeoutMs > 0 {
			stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", b.statementTimeoutMs)
			if _, err := tx.Exec(ctx, stmt); err != nil {
				_ = tx.Rollback(ctx)
				return applied, err
			}
		}
		batch, err := loadBatch(ctx, tx, id)
		if err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("loading header %s: %w", id, err)
		}
		if err := b.engine.ApplyForward(ctx, tx, batch); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("applying header %s: %w", id, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return applied, err
		}
		applied++
		if applied%10000 == 0 {
			logger.Info("bootstrap progress", "headers_applied", applied)
		}
	}
	return applied, nil
}

func (b *Bootstrapper) markComplete(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `UPDATE meta SET value = 'true' WHERE key = 'bootstrapped'`)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `UPDATE meta SET value = $1 WHERE key = 'bootstrapped_at'`,
		time.Now().UTC().Format(time.RFC3339))
	return err
}

// loadBatch reconstructs the BlockBatch derived.Engine.ApplyForward expects,
// by reading back the rows core.Persister already committed for headerID.
// Only the fields the derived engine actually reads are populated.
func loadBatch(ctx context.Context, tx pgx.Tx, headerID string) (*model.BlockBatch, error) {
	batch := &model.BlockBatch{}

	err := tx.QueryRow(ctx, `SELECT height, id, parent_id, timestamp FROM core.headers WHERE id = $1`, headerID).
		Scan(&batch.Header.Height, &batch.Header.ID, &batch.Header.ParentID, &batch.Header.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	outRows, err := tx.Query(ctx, `SELECT box_id, tx_id, header_id, creation_height, address, index, value FROM core.outputs WHERE header_id = $1`, headerID)
	if err != nil {
		return nil, fmt.Errorf("reading outputs: %w", err)
	}
	for outRows.Next() {
		var o model.Output
		if err := outRows.Scan(&o.BoxID, &o.TxID, &o.HeaderID, &o.CreationHeight, &o.Address, &o.Index, &o.Value); err != nil {
			outRows.Close()
			return nil, err
		}
		batch.Outputs = append(batch.Outputs, o)
	}
	if err := outRows.Err(); err != nil {
		outRows.Close()
		return nil, err
	}
	outRows.Close()

	inRows, err := tx.Query(ctx, `SELECT box_id, tx_id, header_id, index FROM core.inputs WHERE header_id = $1`, headerID)
	if err != nil {
		return nil, fmt.Errorf("reading inputs: %w", err)
	}
	for inRows.Next() {
		var i model.Input
		if err := inRows.Scan(&i.BoxID, &i.TxID, &i.HeaderID, &i.Index); err != nil {
			inRows.Close()
			return nil, err
		}
		batch.Inputs = append(batch.Inputs, i)
	}
	if err := inRows.Err(); err != nil {
		inRows.Close()
		return nil, err
	}
	inRows.Close()

	assetRows, err := tx.Query(ctx, `
		SELECT a.box_id, a.token_id, a.amount
		FROM core.box_assets a
		JOIN core.outputs o ON o.box_id = a.box_id
		WHERE o.header_id = $1
	`, headerID)
	if err != nil {
		return nil, fmt.Errorf("reading assets: %w", err)
	}
	for assetRows.Next() {
		var a model.BoxAsset
		if err := assetRows.Scan(&a.BoxID, &a.TokenID, &a.Amount); err != nil {
			assetRows.Close()
			return nil, err
		}
		batch.Assets = append(batch.Assets, a)
	}
	if err := assetRows.Err(); err != nil {
		assetRows.Close()
		return nil, err
	}
	assetRows.Close()

	txRows, err := tx.Query(ctx, `SELECT id, header_id, height, index FROM core.transactions WHERE header_id = $1`, headerID)
	if err != nil {
		return nil, fmt.Errorf("reading transactions: %w", err)
	}
	for txRows.Next() {
		var t model.Transaction
		if err := txRows.Scan(&t.ID, &t.HeaderID, &t.Height, &t.Index); err != nil {
			txRows.Close()
			return nil, err
		}
		batch.Transactions = append(batch.Transactions, t)
	}
	if err := txRows.Err(); err != nil {
		txRows.Close()
		return nil, err
	}
	txRows.Close()

	return batch, nil
}
