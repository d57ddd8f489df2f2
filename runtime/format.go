package runtime

import (
	"encoding/binary"
	"math"
)

// ByteOrder is the intra-register byte order used when decoding/encoding a
// multi-byte value. OrderDefault defers to the owning device's setting.
type ByteOrder int

const (
	OrderDefault ByteOrder = iota
	BigEndian
	LittleEndian
)

// RegisterOrder is the inter-register (word) order used for values spanning
// more than one 16-bit register. RegisterOrderDefault defers to the owning
// device.
type RegisterOrder int

const (
	RegisterOrderDefault RegisterOrder = iota
	HighWordFirst
	LowWordFirst
)

// Format is the presentation/encoding type bound to an Item.
type Format int

const (
	FormatBin16 Format = iota
	FormatDec16
	FormatHex16
	FormatInt16
	FormatUInt16
	FormatInt32
	FormatUInt32
	FormatFloat32
	FormatInt64
	FormatUInt64
	FormatFloat64
	FormatByteArray
	FormatString
)

// RegisterCount returns how many 16-bit registers a value of this format
// occupies. variableLen is consulted for ByteArray/String only, and is
// rounded up to a whole number of registers.
func (f Format) RegisterCount(variableLen int) int {
	switch f {
	case FormatBin16, FormatDec16, FormatHex16, FormatInt16, FormatUInt16:
		return 1
	case FormatInt32, FormatUInt32, FormatFloat32:
		return 2
	case FormatInt64, FormatUInt64, FormatFloat64:
		return 4
	case FormatByteArray, FormatString:
		if variableLen <= 0 {
			return 1
		}
		return (variableLen + 1) / 2
	default:
		return 1
	}
}

// ResolveByteOrder substitutes the device default when the item-level
// setting is "Default" (the Item -> Device cascade).
func ResolveByteOrder(item, device ByteOrder) ByteOrder {
	if item == OrderDefault {
		return device
	}
	return item
}

// ResolveRegisterOrder is ResolveByteOrder's register-order counterpart.
func ResolveRegisterOrder(item, device RegisterOrder) RegisterOrder {
	if item == RegisterOrderDefault {
		return device
	}
	return item
}

// swapBytes reverses the two bytes of a big-endian-encoded 16-bit register
// in place, used to emulate little-endian byte order on the wire (Modbus
// registers are transmitted big-endian; "little endian" items just swap
// bytes within each register before/after the standard big-endian registers
// are assembled).
func swapBytes(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
}

// orderWords reorders a register-aligned byte slice so that, when wordOrder
// is LowWordFirst, the first register on the wire holds the low-order word.
// The reversal is its own inverse, so the same call converts host order to
// wire layout and wire layout back to host order.
func orderWords(b []byte, wordOrder RegisterOrder) {
	if wordOrder != LowWordFirst {
		return
	}
	n := len(b) / 2
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		lo, hi := i*2, j*2
		b[lo], b[lo+1], b[hi], b[hi+1] = b[hi], b[hi+1], b[lo], b[lo+1]
	}
}

// decodeView renders the raw register/bit bytes covered by an item into the
// item's byte order and register order, producing the bytes that get copied
// into the RunItem staging buffer. wire is exactly item.Length() memory
// units' worth of bytes, straight off the reply payload.
func decodeView(wire []byte, byteOrder ByteOrder, registerOrder RegisterOrder) []byte {
	out := make([]byte, len(wire))
	copy(out, wire)
	orderWords(out, registerOrder)
	if byteOrder == LittleEndian {
		swapBytes(out)
	}
	return out
}

// encodeView is decodeView's inverse: given a value already laid out in the
// item's byte/register order (as staged by WriteTo), produce the
// standard big-endian-registers-in-natural-order bytes to place on the wire.
func encodeView(staged []byte, byteOrder ByteOrder, registerOrder RegisterOrder) []byte {
	out := make([]byte, len(staged))
	copy(out, staged)
	if byteOrder == LittleEndian {
		swapBytes(out)
	}
	orderWords(out, registerOrder)
	return out
}

// EncodeUint32 and friends are convenience helpers used by tests and callers
// building write payloads; they operate in natural (big-endian, high-word-
// first) host order — byte/register order is applied separately by
// encodeView once the item's staging buffer is populated.

func EncodeUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func DecodeUint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func DecodeUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

func EncodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func DecodeUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func EncodeFloat32(v float32) []byte { return EncodeUint32(math.Float32bits(v)) }
func DecodeFloat32(b []byte) float32 { return math.Float32frombits(DecodeUint32(b)) }

func EncodeFloat64(v float64) []byte { return EncodeUint64(math.Float64bits(v)) }
func DecodeFloat64(b []byte) float64 { return math.Float64frombits(DecodeUint64(b)) }
