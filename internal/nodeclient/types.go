package nodeclient

// Info is the response shape of GET /info.
type Info struct {
	FullHeight int64 `json:"fullHeight"`
}

// Header is the response shape of GET /blocks/{id}/header, and also the
// header embedded in a full Block payload.
type Header struct {
	ID        string `json:"id"`
	ParentID  string `json:"parentId"`
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

// Asset is one entry of an output's token multiset.
type Asset struct {
	TokenID string `json:"tokenId"`
	Amount  int64  `json:"amount"`
}

// Registers carries the raw, possibly-absent non-mandatory registers
// (R4..R9) as the node serializes them: a map from register name to its
// encoded value. Unknown additional keys are tolerated.
type Registers map[string]string

// Output is one entry of a transaction's outputs list.
type Output struct {
	BoxID                string    `json:"boxId"`
	ErgoTree             string    `json:"ergoTree"`
	Value                int64     `json:"value"`
	CreationHeight       int64     `json:"creationHeight"`
	Assets               []Asset   `json:"assets"`
	AdditionalRegisters  Registers `json:"additionalRegisters"`
}

// BoxRef is the shape of an inputs[]/dataInputs[] entry: just a reference
// to a previously created box.
type BoxRef struct {
	BoxID string `json:"boxId"`
}

// Transaction is one entry of blockTransactions.transactions.
type Transaction struct {
	ID         string   `json:"id"`
	Inputs     []BoxRef `json:"inputs"`
	DataInputs []BoxRef `json:"dataInputs"`
	Outputs    []Output `json:"outputs"`
}

// BlockTransactions is the transactions section of a full block payload.
type BlockTransactions struct {
	Transactions []Transaction `json:"transactions"`
}

// Block is the full payload returned by GET /blocks/{id}.
type Block struct {
	Header            Header            `json:"header"`
	BlockTransactions BlockTransactions `json:"blockTransactions"`
}

// blockIDsAt is the response shape of GET /blocks/at/{h}: an array with 0
// or 1 ids.
type blockIDsAt []string
