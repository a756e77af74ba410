// Package core implements the Core Persister (C3): transactional
// insert/delete of one block's row-sets into the core.* schema, in
// FK-safe order.
package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ergowatch/watcher/internal/model"
)

// Persister commits and reverts core.* row-sets. It never opens its own
// transaction: the caller (tracker) supplies one pgx.Tx shared with the
// Derived-State Engine, so commit/apply_forward (and revert/apply_revert)
// run atomically together.
type Persister struct{}

// New builds a Persister.
func New() *Persister { return &Persister{} }

// Commit inserts every row-set of batch within tx, in FK-safe order:
// header, transactions, outputs, inputs, data_inputs, tokens, registers,
// assets.
func (p *Persister) Commit(ctx context.Context, tx pgx.Tx, batch *model.BlockBatch) error {
	h := batch.Header
	if _, err := tx.Exec(ctx,
		`INSERT INTO core.headers (height, id, parent_id, timestamp) VALUES ($1, $2, $3, $4)`,
		h.Height, h.ID, h.ParentID, h.Timestamp,
	); err != nil {
		return fmt.Errorf("inserting header %s: %w", h.ID, err)
	}

	for _, t := range batch.Transactions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO core.transactions (id, header_id, height, index) VALUES ($1, $2, $3, $4)`,
			t.ID, t.HeaderID, t.Height, t.Index,
		); err != nil {
			return fmt.Errorf("inserting transaction %s: %w", t.ID, err)
		}
	}

	for _, o := range batch.Outputs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO core.outputs (box_id, tx_id, header_id, creation_height, address, index, value)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			o.BoxID, o.TxID, o.HeaderID, o.CreationHeight, o.Address, o.Index, o.Value,
		); err != nil {
			return fmt.Errorf("inserting output %s: %w", o.BoxID, err)
		}
	}

	for _, i := range batch.Inputs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO core.inputs (box_id, tx_id, header_id, index) VALUES ($1, $2, $3, $4)`,
			i.BoxID, i.TxID, i.HeaderID, i.Index,
		); err != nil {
			return fmt.Errorf("inserting input %s: %w", i.BoxID, err)
		}
	}

	for _, di := range batch.DataInputs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO core.data_inputs (box_id, tx_id, header_id, index) VALUES ($1, $2, $3, $4)`,
			di.BoxID, di.TxID, di.HeaderID, di.Index,
		); err != nil {
			return fmt.Errorf("inserting data_input %s: %w", di.BoxID, err)
		}
	}

	for _, tok := range batch.Tokens {
		if _, err := tx.Exec(ctx,
			`INSERT INTO core.tokens (id, box_id, emission_amount, name, description, decimals, standard)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			tok.ID, tok.BoxID, tok.EmissionAmount, tok.Name, tok.Description, tok.Decimals, tok.Standard,
		); err != nil {
			return fmt.Errorf("inserting token %s: %w", tok.ID, err)
		}
	}

	for _, r := range batch.Registers {
		if _, err := tx.Exec(ctx,
			`INSERT INTO core.box_registers (box_id, register_id, raw) VALUES ($1, $2, $3)`,
			r.BoxID, r.RegisterID, r.Raw,
		); err != nil {
			return fmt.Errorf("inserting register %d for box %s: %w", r.RegisterID, r.BoxID, err)
		}
	}

	for _, a := range batch.Assets {
		if _, err := tx.Exec(ctx,
			`INSERT INTO core.box_assets (box_id, token_id, amount) VALUES ($1, $2, $3)`,
			a.BoxID, a.TokenID, a.Amount,
		); err != nil {
			return fmt.Errorf("inserting asset %s/%s: %w", a.BoxID, a.TokenID, err)
		}
	}

	return nil
}

// Revert deletes every row keyed by headerID across core.*, in reverse
// FK-safe order, leaving no dangling references.
func (p *Persister) Revert(ctx context.Context, tx pgx.Tx, headerID string) error {
	stmts := []string{
		`DELETE FROM core.box_assets WHERE box_id IN (SELECT box_id FROM core.outputs WHERE header_id = $1)`,
		`DELETE FROM core.box_registers WHERE box_id IN (SELECT box_id FROM core.outputs WHERE header_id = $1)`,
		`DELETE FROM core.tokens WHERE box_id IN (SELECT box_id FROM core.outputs WHERE header_id = $1)`,
		`DELETE FROM core.data_inputs WHERE header_id = $1`,
		`DELETE FROM core.inputs WHERE header_id = $1`,
		`DELETE FROM core.outputs WHERE header_id = $1`,
		`DELETE FROM core.transactions WHERE header_id = $1`,
		`DELETE FROM core.headers WHERE id = $1`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt, headerID); err != nil {
			return fmt.Errorf("reverting header %s: %w", headerID, err)
		}
	}
	return nil
}

// Header reads one header row by id. The tracker resolves its tip with
// LatestHeader, not with this method.
func (p *Persister) Header(ctx context.Context, tx pgx.Tx, id string) (*model.Header, error) {
	row := tx.QueryRow(ctx, `SELECT height, id, parent_id, timestamp FROM core.headers WHERE id = $1`, id)
	var h model.Header
	if err := row.Scan(&h.Height, &h.ID, &h.ParentID, &h.Timestamp); err != nil {
		return nil, err
	}
	return &h, nil
}

// LatestHeader reads the current max-height header, or nil if core.headers
// is empty.
func (p *Persister) LatestHeader(ctx context.Context, tx pgx.Tx) (*model.Header, error) {
	row := tx.QueryRow(ctx, `SELECT height, id, parent_id, timestamp FROM core.headers ORDER BY height DESC LIMIT 1`)
	var h model.Header
	if err := row.Scan(&h.Height, &h.ID, &h.ParentID, &h.Timestamp); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}
