package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ergowatch/watcher/internal/nodeclient"
)

// collByteHex encodes s as a Coll[SByte] register value: type byte 0x0e,
// a one-byte VLQ length (s is always short enough here), then the UTF-8
// bytes themselves.
func collByteHex(t *testing.T, s string) string {
	t.Helper()
	require.Less(t, len(s), 128, "test helper only handles single-byte VLQ lengths")
	b := []byte{collByteTypeCode, byte(len(s))}
	b = append(b, []byte(s)...)
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, hexdigits[c>>4], hexdigits[c&0x0f])
	}
	return string(out)
}

func TestParseEIP4FullShape(t *testing.T) {
	regs := nodeclient.Registers{
		"R4": collByteHex(t, "TestToken"),
		"R5": collByteHex(t, "a test token"),
		"R6": collByteHex(t, "2"),
	}
	meta, ok := parseEIP4(regs)
	require.True(t, ok)
	require.Equal(t, "TestToken", meta.Name)
	require.Equal(t, "a test token", meta.Description)
	require.NotNil(t, meta.Decimals)
	require.Equal(t, int32(2), *meta.Decimals)
	require.Equal(t, eip4Standard, meta.Standard)
}

func TestParseEIP4WithoutDecimals(t *testing.T) {
	regs := nodeclient.Registers{
		"R4": collByteHex(t, "NoDecimals"),
		"R5": collByteHex(t, "description"),
	}
	meta, ok := parseEIP4(regs)
	require.True(t, ok)
	require.Nil(t, meta.Decimals)
}

func TestParseEIP4MissingNameFails(t *testing.T) {
	regs := nodeclient.Registers{
		"R5": collByteHex(t, "description only"),
	}
	_, ok := parseEIP4(regs)
	require.False(t, ok)
}

func TestParseEIP4MalformedR6Fails(t *testing.T) {
	regs := nodeclient.Registers{
		"R4": collByteHex(t, "Tok"),
		"R5": collByteHex(t, "desc"),
		"R6": collByteHex(t, "not-a-number"),
	}
	_, ok := parseEIP4(regs)
	require.False(t, ok)
}

func TestDecodeCollByteStringRejectsWrongTypeCode(t *testing.T) {
	_, ok := decodeCollByteString("0f0454657374")
	require.False(t, ok)
}

func TestDecodeCollByteStringRejectsBadHex(t *testing.T) {
	_, ok := decodeCollByteString("zz")
	require.False(t, ok)
}

func TestDecodeCollByteStringRejectsLengthMismatch(t *testing.T) {
	// Declares length 10 but only carries 4 payload bytes.
	_, ok := decodeCollByteString("0e0a54455354")
	require.False(t, ok)
}
