// Package normalize implements the Block Normalizer (C2): translating one
// upstream block payload into an ordered BlockBatch of typed row-sets,
// honoring FK-safe insertion order. Normalize reads (never writes)
// previously committed core.* rows to resolve cross-block spends for its
// conservation check.
package normalize

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ergowatch/watcher/internal/ergoaddr"
	"github.com/ergowatch/watcher/internal/model"
	"github.com/ergowatch/watcher/internal/nodeclient"
)

// registerIDs are the non-mandatory register slots a box may carry.
var registerIDs = []string{"R4", "R5", "R6", "R7", "R8", "R9"}

// Normalizer holds the injected, pluggable address-derivation policy.
type Normalizer struct {
	addr ergoaddr.Encoder
}

// New builds a Normalizer with the given address encoder.
func New(addr ergoaddr.Encoder) *Normalizer {
	return &Normalizer{addr: addr}
}

// Normalize transforms a full node block payload into a BlockBatch. It
// never touches the network, but it does read tx for the conservation
// check: a spent input may reference an output committed by an earlier
// block, which only the database (not the in-memory block payload)
// knows about.
func (n *Normalizer) Normalize(ctx context.Context, tx pgx.Tx, block *nodeclient.Block) (*model.BlockBatch, error) {
	h := block.Header
	batch := &model.BlockBatch{
		Header: model.Header{
			Height:    h.Height,
			ID:        h.ID,
			ParentID:  h.ParentID,
			Timestamp: h.Timestamp,
		},
		ConservationOK: make(map[string]bool),
	}

	for txIndex, tx := range block.BlockTransactions.Transactions {
		batch.Transactions = append(batch.Transactions, model.Transaction{
			ID:       tx.ID,
			HeaderID: h.ID,
			Height:   h.Height,
			Index:    int32(txIndex),
		})

		for i, ref := range tx.Inputs {
			batch.Inputs = append(batch.Inputs, model.Input{
				BoxID:    ref.BoxID,
				TxID:     tx.ID,
				HeaderID: h.ID,
				Index:    int32(i),
			})
		}
		for i, ref := range tx.DataInputs {
			batch.DataInputs = append(batch.DataInputs, model.DataInput{
				BoxID:    ref.BoxID,
				TxID:     tx.ID,
				HeaderID: h.ID,
				Index:    int32(i),
			})
		}

		var mintedTokenID string
		if len(tx.Inputs) > 0 {
			// Ergo minting rule: a token id equal to the first input's
			// box id identifies that input as the mint of a new token.
			mintedTokenID = tx.Inputs[0].BoxID
		}

		for outIndex, out := range tx.Outputs {
			address, err := n.addr.Encode(out.ErgoTree)
			if err != nil {
				return nil, err
			}
			batch.Outputs = append(batch.Outputs, model.Output{
				BoxID:          out.BoxID,
				TxID:           tx.ID,
				HeaderID:       h.ID,
				CreationHeight: out.CreationHeight,
				Address:        address,
				Index:          int32(outIndex),
				Value:          out.Value,
			})

			for _, asset := range out.Assets {
				batch.Assets = append(batch.Assets, model.BoxAsset{
					BoxID:   out.BoxID,
					TokenID: asset.TokenID,
					Amount:  asset.Amount,
				})
				if asset.TokenID == mintedTokenID {
					meta, ok := parseEIP4(out.AdditionalRegisters)
					token := model.Token{
						ID:             mintedTokenID,
						BoxID:          out.BoxID,
						EmissionAmount: asset.Amount,
					}
					if ok {
						token.Name = &meta.Name
						token.Description = &meta.Description
						token.Decimals = meta.Decimals
						token.Standard = &meta.Standard
					}
					batch.Tokens = append(batch.Tokens, token)
				}
			}

			for _, regID := range registerIDs {
				raw, present := out.AdditionalRegisters[regID]
				if !present {
					continue
				}
				batch.Registers = append(batch.Registers, model.BoxRegister{
					BoxID:      out.BoxID,
					RegisterID: registerOrdinal(regID),
					Raw:        raw,
				})
			}
		}

	}

	outputsByBoxID := make(map[string]model.Output, len(batch.Outputs))
	for _, o := range batch.Outputs {
		outputsByBoxID[o.BoxID] = o
	}
	assetsByBoxID := make(map[string][]model.BoxAsset)
	for _, a := range batch.Assets {
		assetsByBoxID[a.BoxID] = append(assetsByBoxID[a.BoxID], a)
	}
	resolve := func(boxID string) (model.Output, []model.BoxAsset, error) {
		if o, ok := outputsByBoxID[boxID]; ok {
			return o, assetsByBoxID[boxID], nil
		}
		return resolveCommittedOutput(ctx, tx, boxID)
	}

	for _, txn := range block.BlockTransactions.Transactions {
		var mintedTokenID string
		if len(txn.Inputs) > 0 {
			mintedTokenID = txn.Inputs[0].BoxID
		}
		ok, err := checkConservation(txn, mintedTokenID, resolve)
		if err != nil {
			return nil, fmt.Errorf("checking conservation for tx %s: %w", txn.ID, err)
		}
		batch.ConservationOK[txn.ID] = ok
	}

	return batch, nil
}

// resolveCommittedOutput looks up a spent box's value and assets from
// already-committed core.* rows (a cross-block spend: the box was
// created by a previous block, not this one).
func resolveCommittedOutput(ctx context.Context, tx pgx.Tx, boxID string) (model.Output, []model.BoxAsset, error) {
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

func registerOrdinal(name string) int32 {
	// R4 == 4, R9 == 9.
	return int32(name[1] - '0')
}

// outputResolver looks up a spent box's value and assets, from the
// current block's own outputs first and a previously committed block's
// core.outputs/core.box_assets as a fallback.
type outputResolver func(boxID string) (model.Output, []model.BoxAsset, error)

// checkConservation checks Σ input values = Σ output values (ERG is never
// minted outside coinbase/genesis), and, per token, that the amount sent
// to outputs never exceeds what inputs supply plus what this transaction
// mints: Σinputs + Σminted - Σoutputs is the implicit burn, which must
// never go negative. The minted token is skipped entirely. For informational purposes only: checked and
// recorded, not enforced by DB constraints. Coinbase/emission
// transactions (no inputs) are exempt.
func checkConservation(tx nodeclient.Transaction, mintedTokenID string, resolve outputResolver) (bool, error) {
	if len(tx.Inputs) == 0 {
		return true, nil
	}

	var inputERG int64
	inputTokens := make(map[string]int64)
	for _, ref := range tx.Inputs {
		spent, assets, err := resolve(ref.BoxID)
		if err != nil {
			return false, err
		}
		inputERG += spent.Value
		for _, a := range assets {
			inputTokens[a.TokenID] += a.Amount
		}
	}

	var outputERG int64
	outputTokens := make(map[string]int64)
	for _, out := range tx.Outputs {
		if out.Value < 0 {
			return false, nil
		}
		outputERG += out.Value
		for _, a := range out.Assets {
			outputTokens[a.TokenID] += a.Amount
		}
	}

	if inputERG != outputERG {
		return false, nil
	}

	for tokenID, outAmt := range outputTokens {
		if tokenID == mintedTokenID {
			// A freshly minted token has no prior supply to preserve
			// against; its emission amount is whatever this tx declares.
			continue
		}
		if outAmt > inputTokens[tokenID] {
			return false, nil
		}
	}

	return true, nil
}
