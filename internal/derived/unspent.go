package derived

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ergowatch/watcher/internal/model"
)

// applyUnspentForward inserts every output batch creates into usp.boxes
// and deletes every input it spends.
func applyUnspentForward(ctx context.Context, tx pgx.Tx, batch *model.BlockBatch) error {
	for _, o := range batch.Outputs {
		if err := insertUnspent(ctx, tx, o.BoxID); err != nil {
			return err
		}
	}
	for _, in := range batch.Inputs {
		if err := deleteUnspent(ctx, tx, in.BoxID); err != nil {
			return err
		}
	}
	return nil
}

// applyUnspentRevert re-inserts into usp.boxes every box_id spent by
// headerID (recoverable via core.inputs, still intact at this point) and
// deletes every box_id it created.
func applyUnspentRevert(ctx context.Context, tx pgx.Tx, headerID string) error {
	rows, err := tx.Query(ctx, `SELECT box_id FROM core.inputs WHERE header_id = $1`, headerID)
	if err != nil {
		return fmt.Errorf("reading spent inputs for header %s: %w", headerID, err)
	}
	var spent []string
	for rows.Next() {
		var boxID string
		if err := rows.Scan(&boxID); err != nil {
			rows.Close()
			return err
		}
		spent = append(spent, boxID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	for _, boxID := range spent {
		if err := insertUnspent(ctx, tx, boxID); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM usp.boxes WHERE box_id IN (SELECT box_id FROM core.outputs WHERE header_id = $1)`,
		headerID,
	); err != nil {
		return fmt.Errorf("removing created outputs from unspent set for header %s: %w", headerID, err)
	}
	return nil
}

func insertUnspent(ctx context.Context, tx pgx.Tx, boxID string) error {
	if _, err := tx.Exec(ctx, `INSERT INTO usp.boxes (box_id) VALUES ($1) ON CONFLICT (box_id) DO NOTHING`, boxID); err != nil {
		return fmt.Errorf("inserting unspent box %s: %w", boxID, err)
	}
	return nil
}

func deleteUnspent(ctx context.Context, tx pgx.Tx, boxID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM usp.boxes WHERE box_id = $1`, boxID); err != nil {
		return fmt.Errorf("deleting unspent box %s: %w", boxID, err)
	}
	return nil
}
