package derived

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ergowatch/watcher/internal/model"
)

// ErgDiff mirrors one row of bal.erg_diffs.
type ErgDiff struct {
	Height  int64
	Address string
	TxID    string
	Value   int64
}

// TokenDiff mirrors one row of bal.tokens_diffs.
type TokenDiff struct {
	Address string
	TokenID string
	Height  int64
	TxID    string
	Value   int64
}

// computeForwardDiffs derives the signed per-tx ERG and token balance
// changes for a whole block: negative entries for each spent input (value
// looked up via outputs.box_id), positive entries for each created
// output, plus full emission on a minting output.
func computeForwardDiffs(ctx context.Context, tx pgx.Tx, batch *model.BlockBatch) ([]ErgDiff, []TokenDiff, error) {
	height := batch.Header.Height

	// Index this block's own outputs by box id, since a spend within the
	// same block references a box created earlier in the same batch
	// (already inserted into core.outputs by the Persister before this
	// runs, but indexing here avoids a redundant round-trip per input).
	byBoxID := make(map[string]model.Output, len(batch.Outputs))
	for _, o := range batch.Outputs {
		byBoxID[o.BoxID] = o
	}
	assetsByBoxID := make(map[string][]model.BoxAsset)
	for _, a := range batch.Assets {
		assetsByBoxID[a.BoxID] = append(assetsByBoxID[a.BoxID], a)
	}

	resolveOutput := func(boxID string) (model.Output, []model.BoxAsset, error) {
		if o, ok := byBoxID[boxID]; ok {
			return o, assetsByBoxID[boxID], nil
		}
		var o model.Output
		err := tx.QueryRow(ctx,
			`SELECT box_id, tx_id, header_id, creation_height, address, index, value FROM core.outputs WHERE box_id = $1`,
			boxID,
		).Scan(&o.BoxID, &o.TxID, &o.HeaderID, &o.CreationHeight, &o.Address, &o.Index, &o.Value)
		if err != nil {
			return model.Output{}, nil, fmt.Errorf("resolving spent output %s: %w", boxID, err)
		}
		rows, err := tx.Query(ctx, `SELECT box_id, token_id, amount FROM core.box_assets WHERE box_id = $1`, boxID)
		if err != nil {
			return model.Output{}, nil, fmt.Errorf("resolving assets of spent output %s: %w", boxID, err)
		}
		defer rows.Close()
		var assets []model.BoxAsset
		for rows.Next() {
			var a model.BoxAsset
			if err := rows.Scan(&a.BoxID, &a.TokenID, &a.Amount); err != nil {
				return model.Output{}, nil, err
			}
			assets = append(assets, a)
		}
		return o, assets, rows.Err()
	}

	var ergDiffs []ErgDiff
	var tokenDiffs []TokenDiff

	inputsByTx := make(map[string][]model.Input)
	for _, in := range batch.Inputs {
		inputsByTx[in.TxID] = append(inputsByTx[in.TxID], in)
	}
	outputsByTx := make(map[string][]model.Output)
	for _, o := range batch.Outputs {
		outputsByTx[o.TxID] = append(outputsByTx[o.TxID], o)
	}

	for _, t := range batch.Transactions {
		for _, in := range inputsByTx[t.ID] {
			spent, assets, err := resolveOutput(in.BoxID)
			if err != nil {
				return nil, nil, err
			}
			ergDiffs = append(ergDiffs, ErgDiff{Height: height, Address: spent.Address, TxID: t.ID, Value: -spent.Value})
			for _, a := range assets {
				tokenDiffs = append(tokenDiffs, TokenDiff{Address: spent.Address, TokenID: a.TokenID, Height: height, TxID: t.ID, Value: -a.Amount})
			}
		}
		for _, out := range outputsByTx[t.ID] {
			ergDiffs = append(ergDiffs, ErgDiff{Height: height, Address: out.Address, TxID: t.ID, Value: out.Value})
			for _, a := range assetsByBoxID[out.BoxID] {
				tokenDiffs = append(tokenDiffs, TokenDiff{Address: out.Address, TokenID: a.TokenID, Height: height, TxID: t.ID, Value: a.Amount})
			}
		}
	}

	return ergDiffs, tokenDiffs, nil
}

func insertErgDiff(ctx context.Context, tx pgx.Tx, d ErgDiff) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO bal.erg_diffs (height, address, tx_id, value) VALUES ($1, $2, $3, $4)`,
		d.Height, d.Address, d.TxID, d.Value,
	)
	if err != nil {
		return fmt.Errorf("inserting erg_diff for %s: %w", d.Address, err)
	}
	return nil
}

func insertTokenDiff(ctx context.Context, tx pgx.Tx, d TokenDiff) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO bal.tokens_diffs (address, token_id, height, tx_id, value) VALUES ($1, $2, $3, $4, $5)`,
		d.Address, d.TokenID, d.Height, d.TxID, d.Value,
	)
	if err != nil {
		return fmt.Errorf("inserting tokens_diff for %s/%s: %w", d.Address, d.TokenID, err)
	}
	return nil
}

// upsertErgBalance adds delta to address's running ERG balance, deleting
// the row if it reaches exactly zero (balances are kept strictly positive).
func upsertErgBalance(ctx context.Context, tx pgx.Tx, address string, delta int64) error {
	// The zero case is handled by deleting up front: updating the row to 0
	// would violate bal.erg's CHECK (value > 0) before any later prune ran.
	tag, err := tx.Exec(ctx, `DELETE FROM bal.erg WHERE address = $1 AND value + $2 = 0`, address, delta)
	if err != nil {
		return fmt.Errorf("pruning zero erg balance for %s: %w", address, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO bal.erg (address, value) VALUES ($1, $2)
		 ON CONFLICT (address) DO UPDATE SET value = bal.erg.value + EXCLUDED.value`,
		address, delta,
	)
	if err != nil {
		return fmt.Errorf("upserting erg balance for %s: %w", address, err)
	}
	return nil
}

// upsertTokenBalance adds delta to (address, tokenID)'s running token
// balance, deleting the row if it reaches exactly zero.
func upsertTokenBalance(ctx context.Context, tx pgx.Tx, address, tokenID string, delta int64) error {
	tag, err := tx.Exec(ctx,
		`DELETE FROM bal.tokens WHERE address = $1 AND token_id = $2 AND value + $3 = 0`,
		address, tokenID, delta,
	)
	if err != nil {
		return fmt.Errorf("pruning zero token balance for %s/%s: %w", address, tokenID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO bal.tokens (address, token_id, value) VALUES ($1, $2, $3)
		 ON CONFLICT (address, token_id) DO UPDATE SET value = bal.tokens.value + EXCLUDED.value`,
		address, tokenID, delta,
	)
	if err != nil {
		return fmt.Errorf("upserting token balance for %s/%s: %w", address, tokenID, err)
	}
	return nil
}

func readErgDiffs(ctx context.Context, tx pgx.Tx, height int64) ([]ErgDiff, error) {
	rows, err := tx.Query(ctx, `SELECT height, address, tx_id, value FROM bal.erg_diffs WHERE height = $1`, height)
	if err != nil {
		return nil, fmt.Errorf("reading erg_diffs at height %d: %w", height, err)
	}
	defer rows.Close()
	var out []ErgDiff
	for rows.Next() {
		var d ErgDiff
		if err := rows.Scan(&d.Height, &d.Address, &d.TxID, &d.Value); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func readTokenDiffs(ctx context.Context, tx pgx.Tx, height int64) ([]TokenDiff, error) {
	rows, err := tx.Query(ctx, `SELECT address, token_id, height, tx_id, value FROM bal.tokens_diffs WHERE height = $1`, height)
	if err != nil {
		return nil, fmt.Errorf("reading tokens_diffs at height %d: %w", height, err)
	}
	defer rows.Close()
	var out []TokenDiff
	for rows.Next() {
		var d TokenDiff
		if err := rows.Scan(&d.Address, &d.TokenID, &d.Height, &d.TxID, &d.Value); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
