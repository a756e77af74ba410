// Package ergoaddr derives addresses from ErgoTree scripts via a
// pluggable function: equal ErgoTrees always produce equal addresses.
package ergoaddr

import (
	"encoding/hex"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/blake2b"
)

// network byte prefixes, as used by the Ergo reference client.
const (
	NetworkMainnet byte = 0x00
	NetworkTestnet byte = 0x10
)

// P2PK/P2S address-type markers, folded into the network prefix byte the
// same way the Ergo reference client does (addressType | networkPrefix).
const (
	p2pkType byte = 0x01
	p2sType  byte = 0x02
)

// Encoder derives an address string from a hex-encoded ErgoTree. It is
// injected into the normalizer so the network (mainnet/testnet prefix) is
// a config value rather than a code change.
type Encoder interface {
	Encode(ergoTreeHex string) (string, error)
}

type encoder struct {
	prefix byte
}

// NewEncoder builds an Encoder for the given network name ("mainnet" or
// "testnet"); unknown names default to mainnet.
func NewEncoder(network string) Encoder {
	prefix := NetworkMainnet
	if network == "testnet" {
		prefix = NetworkTestnet
	}
	return &encoder{prefix: prefix}
}

// Encode maps an ErgoTree to its address: a base58check string over a
// single type/network prefix byte followed by the tree bytes, checksummed
// with a single Blake2b256 digest (not Bitcoin's double-SHA256). P2PK
// trees (a single push of a 33-byte group element under the standard
// `0008cd<pubkey>` prefix) are detected and encoded with their public key
// directly, as the reference client does; everything else is treated as a
// generic P2S script and the whole tree is embedded. Equal inputs always
// produce equal outputs.
func (e *encoder) Encode(ergoTreeHex string) (string, error) {
	tree, err := hex.DecodeString(ergoTreeHex)
	if err != nil {
		return "", err
	}

	var payload []byte
	var typeByte byte
	if pk, ok := p2pkPubKey(tree); ok {
		typeByte = p2pkType
		payload = pk
	} else {
		typeByte = p2sType
		payload = tree
	}

	body := append([]byte{e.prefix | typeByte}, payload...)
	checksum := blake2b.Sum256(body)
	full := append(body, checksum[:4]...)
	return base58.Encode(full), nil
}

// p2pkPubKey recognizes the canonical single-pubkey ErgoTree
// (0008cd<33 bytes>) and returns the embedded public key bytes.
func p2pkPubKey(tree []byte) ([]byte, bool) {
	const prefixLen = 3 // header byte 0x00, opcode 0x08, 0xcd
	const pubKeyLen = 33
	if len(tree) != prefixLen+pubKeyLen {
		return nil, false
	}
	if tree[0] != 0x00 || tree[1] != 0x08 || tree[2] != 0xcd {
		return nil, false
	}
	return tree[prefixLen:], true
}
