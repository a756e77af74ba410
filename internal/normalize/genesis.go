package normalize

import (
	"github.com/ergowatch/watcher/internal/model"
	"github.com/ergowatch/watcher/internal/nodeclient"
)

// GenesisHeaderID is the stable synthetic header id assigned to height 0,
// so every later real block's chain of parent_id references closes
// without a special case.
const GenesisHeaderID = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisTxID is the id of the single dummy transaction wrapping the
// genesis boxes.
const GenesisTxID = "0000000000000000000000000000000000000000000000000000000000000001"

// Genesis wraps the node's genesis boxes into a single dummy transaction
// at height 0 under the synthetic genesis header, landing them in
// core.outputs before any real block is applied.
func (n *Normalizer) Genesis(boxes []nodeclient.Output) (*model.BlockBatch, error) {
	batch := &model.BlockBatch{
		Header: model.Header{
			Height:    0,
			ID:        GenesisHeaderID,
			ParentID:  "",
			Timestamp: 0,
		},
		Transactions: []model.Transaction{
			{ID: GenesisTxID, HeaderID: GenesisHeaderID, Height: 0, Index: 0},
		},
		ConservationOK: map[string]bool{GenesisTxID: true},
	}

	for i, box := range boxes {
		address, err := n.addr.Encode(box.ErgoTree)
		if err != nil {
			return nil, err
		}
		batch.Outputs = append(batch.Outputs, model.Output{
			BoxID:          box.BoxID,
			TxID:           GenesisTxID,
			HeaderID:       GenesisHeaderID,
			CreationHeight: 0,
			Address:        address,
			Index:          int32(i),
			Value:          box.Value,
		})
		for _, asset := range box.Assets {
			batch.Assets = append(batch.Assets, model.BoxAsset{
				BoxID:   box.BoxID,
				TokenID: asset.TokenID,
				Amount:  asset.Amount,
			})
		}
		for _, regID := range registerIDs {
			raw, present := box.AdditionalRegisters[regID]
			if !present {
				continue
			}
			batch.Registers = append(batch.Registers, model.BoxRegister{
				BoxID:      box.BoxID,
				RegisterID: registerOrdinal(regID),
				Raw:        raw,
			})
		}
	}

	return batch, nil
}
