package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEncodeDecodeRoundTrip covers spec.md §8's round-trip law: encoding a
// value with (format, byte order, register order) and decoding the
// resulting bytes yields the original value, for every non-string format.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name          string
		staged        []byte
		byteOrder     ByteOrder
		registerOrder RegisterOrder
	}{
		{"uint16 big/high", EncodeUint16(0xBEEF), BigEndian, HighWordFirst},
		{"uint16 little/high", EncodeUint16(0xBEEF), LittleEndian, HighWordFirst},
		{"uint32 big/high", EncodeUint32(0xDEADBEEF), BigEndian, HighWordFirst},
		{"uint32 big/low", EncodeUint32(0xDEADBEEF), BigEndian, LowWordFirst},
		{"uint32 little/low", EncodeUint32(0xDEADBEEF), LittleEndian, LowWordFirst},
		{"float32 big/high", EncodeFloat32(3.14159), BigEndian, HighWordFirst},
		{"uint64 big/high", EncodeUint64(0x0102030405060708), BigEndian, HighWordFirst},
		{"uint64 big/low", EncodeUint64(0x0102030405060708), BigEndian, LowWordFirst},
		{"float64 little/low", EncodeFloat64(2.71828), LittleEndian, LowWordFirst},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire := encodeView(tc.staged, tc.byteOrder, tc.registerOrder)
			require.Len(t, wire, len(tc.staged))
			back := decodeView(wire, tc.byteOrder, tc.registerOrder)
			require.Equal(t, tc.staged, back)
		})
	}
}

func TestFormatRegisterCount(t *testing.T) {
	require.Equal(t, 1, FormatBin16.RegisterCount(0))
	require.Equal(t, 1, FormatUInt16.RegisterCount(0))
	require.Equal(t, 2, FormatFloat32.RegisterCount(0))
	require.Equal(t, 2, FormatUInt32.RegisterCount(0))
	require.Equal(t, 4, FormatFloat64.RegisterCount(0))
	require.Equal(t, 4, FormatInt64.RegisterCount(0))
	require.Equal(t, 3, FormatByteArray.RegisterCount(5)) // 5 bytes -> 3 registers
	require.Equal(t, 1, FormatString.RegisterCount(0))    // degenerate, at least one register
}

func TestResolveOrderCascade(t *testing.T) {
	require.Equal(t, BigEndian, ResolveByteOrder(OrderDefault, BigEndian))
	require.Equal(t, LittleEndian, ResolveByteOrder(LittleEndian, BigEndian))
	require.Equal(t, HighWordFirst, ResolveRegisterOrder(RegisterOrderDefault, HighWordFirst))
	require.Equal(t, LowWordFirst, ResolveRegisterOrder(LowWordFirst, HighWordFirst))
}
