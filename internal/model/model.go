// Package model defines the row-sets that make up the core.* relational
// schema and the ordered BlockBatch the normalizer (C2) produces from one
// upstream block.
package model

// Header is one row of core.headers.
type Header struct {
	Height    int64
	ID        string
	ParentID  string
	Timestamp int64
}

// Transaction is one row of core.transactions.
type Transaction struct {
	ID       string
	HeaderID string
	Height   int64
	Index    int32
}

// Output is one row of core.outputs.
type Output struct {
	BoxID          string
	TxID           string
	HeaderID       string
	CreationHeight int64
	Address        string
	Index          int32
	Value          int64
}

// Input is one row of core.inputs.
type Input struct {
	BoxID    string
	TxID     string
	HeaderID string
	Index    int32
}

// DataInput is one row of core.data_inputs.
type DataInput struct {
	BoxID    string
	TxID     string
	HeaderID string
	Index    int32
}

// Token is one row of core.tokens: minted-token metadata keyed by the
// minting box. Name/Description/Decimals/Standard are nil unless the
// box's registers parsed as the EIP-4 shape.
type Token struct {
	ID             string
	BoxID          string
	EmissionAmount int64
	Name           *string
	Description    *string
	Decimals       *int32
	Standard       *string
}

// BoxRegister is one row of core.box_registers: a non-standard register
// (R4..R9) actually present on an output.
type BoxRegister struct {
	BoxID      string
	RegisterID int32
	Raw        string
}

// BoxAsset is one row of core.box_assets: a (box, token, amount) entry of
// the box's asset multiset.
type BoxAsset struct {
	BoxID   string
	TokenID string
	Amount  int64
}

// BlockBatch is the ordered tuple of row-sets the normalizer produces for
// one block. Insertion must follow this field order to satisfy FKs when
// constraints are enabled.
type BlockBatch struct {
	Header      Header
	Transactions []Transaction
	Outputs      []Output
	Inputs       []Input
	DataInputs   []DataInput
	Tokens       []Token
	Registers    []BoxRegister
	Assets       []BoxAsset

	// ConservationOK records, per transaction id, whether value
	// conservation held for that transaction. Non-fatal: logged, not
	// enforced.
	ConservationOK map[string]bool
}
