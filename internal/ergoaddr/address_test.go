package ergoaddr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeIsDeterministic(t *testing.T) {
	enc := NewEncoder("mainnet")
	tree := "0008cd0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

	a, err := enc.Encode(tree)
	require.NoError(t, err)
	b, err := enc.Encode(tree)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.NotEmpty(t, a)
}

func TestEncodeDistinguishesTrees(t *testing.T) {
	enc := NewEncoder("mainnet")
	a, err := enc.Encode("0008cd0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	require.NoError(t, err)
	b, err := enc.Encode("0008cd02c6047f9441ed7d6d3045406e95c07cd85c778e4b8cef3ca7abac09b95c709ee5")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestEncodeDistinguishesNetworks(t *testing.T) {
	tree := "0008cd0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	mainnet, err := NewEncoder("mainnet").Encode(tree)
	require.NoError(t, err)
	testnet, err := NewEncoder("testnet").Encode(tree)
	require.NoError(t, err)
	require.NotEqual(t, mainnet, testnet)
}

func TestEncodeRejectsInvalidHex(t *testing.T) {
	enc := NewEncoder("mainnet")
	_, err := enc.Encode("not-hex")
	require.Error(t, err)
}

// TestEncodeMatchesKnownMainnetAddress pins the encoder against a real
// P2PK address/ErgoTree pair, so a wrong checksum algorithm (e.g.
// Bitcoin-style double-SHA256 instead of Ergo's single Blake2b256) can't
// pass by only checking self-consistency.
func TestEncodeMatchesKnownMainnetAddress(t *testing.T) {
	enc := NewEncoder("mainnet")
	addr, err := enc.Encode("0008cd020741296f1bf88bab2270929be88f742bb0f6b267643588af85639e1a8c982a41")
	require.NoError(t, err)
	require.Equal(t, "9eaFpf4DR1Fj3WnCvDdgfNNdfa8tAZ1Ga21YchCZpeFSEFtkKDq", addr)
}

func TestEncodeFallsBackToP2SForNonStandardTrees(t *testing.T) {
	enc := NewEncoder("mainnet")
	// Not the canonical 0008cd<33 bytes> shape: treated as a generic P2S
	// script and still encodes successfully.
	addr, err := enc.Encode("00d191a3")
	require.NoError(t, err)
	require.NotEmpty(t, addr)
}
