package normalize

import (
	"encoding/hex"
	"strconv"
	"unicode/utf8"

	"github.com/ergowatch/watcher/internal/nodeclient"
)

// tokenMetadata is the EIP-4 shape: R4 = name, R5 = description,
// R6 = decimals (as a UTF-8 digit string) in the reference client's
// encoding.
type tokenMetadata struct {
	Name        string
	Description string
	Decimals    *int32
	Standard    string
}

const eip4Standard = "EIP-004"

// collByteTypeCode is the Ergo serialization type code for Coll[SByte],
// the wire type every EIP-4 register value uses.
const collByteTypeCode = 0x0e

// parseEIP4 attempts to read the EIP-4 token-metadata shape out of a box's
// additional registers. It succeeds only when R4 and R5 both decode as
// Coll[Byte]-wrapped UTF-8 strings; R6, if present, must decode the same
// way to a string of decimal digits.
func parseEIP4(regs nodeclient.Registers) (*tokenMetadata, bool) {
	name, ok := decodeCollByteString(regs["R4"])
	if !ok {
		return nil, false
	}
	desc, ok := decodeCollByteString(regs["R5"])
	if !ok {
		return nil, false
	}

	meta := &tokenMetadata{Name: name, Description: desc, Standard: eip4Standard}

	if raw, present := regs["R6"]; present {
		digits, ok := decodeCollByteString(raw)
		if !ok {
			return nil, false
		}
		n, err := strconv.Atoi(digits)
		if err != nil || n < 0 {
			return nil, false
		}
		d := int32(n)
		meta.Decimals = &d
	}

	return meta, true
}

// decodeCollByteString decodes a hex-encoded Ergo Coll[SByte] register
// value (type byte 0x0e, a VLQ length, then the raw bytes) into a UTF-8
// string. Any other shape (missing, malformed hex, wrong type code,
// length mismatch, non-UTF-8 payload) is reported as not-ok rather than
// an error: EIP-4 tolerance is a best-effort classification, not a hard
// requirement.
func decodeCollByteString(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) < 2 || b[0] != collByteTypeCode {
		return "", false
	}
	length, n := decodeVLQ(b[1:])
	if n == 0 {
		return "", false
	}
	payload := b[1+n:]
	if int64(len(payload)) != length {
		return "", false
	}
	if !utf8.Valid(payload) {
		return "", false
	}
	return string(payload), true
}

// decodeVLQ decodes an unsigned base-128 varint (Ergo/Protobuf style) and
// returns the value and the number of bytes consumed, or (0, 0) on a
// malformed encoding.
func decodeVLQ(b []byte) (int64, int) {
	var result int64
	var shift uint
	for i, by := range b {
		result |= int64(by&0x7f) << shift
		if by&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
		if shift > 63 {
			return 0, 0
		}
	}
	return 0, 0
}
