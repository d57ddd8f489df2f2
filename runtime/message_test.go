package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/modbuscore/mbclient/modbus"
)

func newHoldingItem(name string, offset uint16) *RunItem {
	it := &Item{
		Handle:  Handle(offset),
		Name:    name,
		Address: Address{Memory: modbus.Memory4x, Offset: offset},
		Format:  FormatInt32, // 2 registers
	}
	return NewRunItem(it)
}

// packReadMessages mirrors runtimeport.DeviceRunnable.createReadMessages'
// first-fit packing so the algorithm can be exercised directly against
// runtime.Message without standing up a whole device.
func packReadMessages(items []*RunItem, cap uint16) []*Message {
	var msgs []*Message
	for _, ri := range items {
		packed := false
		for _, m := range msgs {
			if m.AddItem(ri, cap) {
				packed = true
				break
			}
		}
		if packed {
			continue
		}
		m := NewMessage(modbus.FuncCodeReadHoldingRegisters, modbus.Memory4x, 1, KindRead)
		if m.AddItem(ri, cap) {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// TestCoalescingReads is scenario S1: a device with
// max_read_holding_registers=8 and items at offsets 100(len2), 102(len2),
// 104(len2), 109(len2) must produce exactly two read messages: one
// covering offset 100 count 6 (items A, B, C) and one covering offset 109
// count 2 (item D).
func TestCoalescingReads(t *testing.T) {
	a := newHoldingItem("A", 100)
	b := newHoldingItem("B", 102)
	c := newHoldingItem("C", 104)
	d := newHoldingItem("D", 109)

	msgs := packReadMessages([]*RunItem{a, b, c, d}, 8)

	require.Len(t, msgs, 2)
	require.Equal(t, uint16(100), msgs[0].Offset)
	require.Equal(t, uint16(6), msgs[0].Count)
	require.Equal(t, uint16(109), msgs[1].Offset)
	require.Equal(t, uint16(2), msgs[1].Count)
}

// TestCapEnforcement is scenario S2: ten items at offsets 0,2,...,18 (each
// length 2) against a cap of 8 must split into three messages of count
// 8, 8, 4 — never a single message exceeding the cap.
func TestCapEnforcement(t *testing.T) {
	var items []*RunItem
	for offset := uint16(0); offset <= 18; offset += 2 {
		items = append(items, newHoldingItem("item", offset))
	}

	msgs := packReadMessages(items, 8)

	require.Len(t, msgs, 3)
	counts := []uint16{msgs[0].Count, msgs[1].Count, msgs[2].Count}
	require.Equal(t, []uint16{8, 8, 4}, counts)
	for _, m := range msgs {
		require.LessOrEqual(t, m.Count, uint16(8))
	}
}

// TestMessageCompletionRedistributesByOffset checks that SetComplete slices
// the reply payload back to each covered item at the right offset, and that
// a read message is reusable across cycles (covered items survive
// completion). The write-message counterpart is
// TestWriteMessageDropsCoveredItemsOnComplete.
func TestMessageCompletionRedistributesByOffset(t *testing.T) {
	a := newHoldingItem("A", 100) // occupies words[0:2]
	b := newHoldingItem("B", 102) // occupies words[2:4]

	m := NewMessage(modbus.FuncCodeReadHoldingRegisters, modbus.Memory4x, 1, KindRead)
	require.True(t, m.AddItem(a, 8))
	require.True(t, m.AddItem(b, 8))

	m.PrepareToSend(BigEndian, HighWordFirst)
	m.Words = []uint16{0x0001, 0x0002, 0x0003, 0x0004}

	now := time.Now()
	m.SetComplete(StatusGood, now, BigEndian, HighWordFirst)

	bufA, statusA, tsA := a.Snapshot()
	bufB, statusB, tsB := b.Snapshot()

	require.Equal(t, StatusGood, statusA)
	require.Equal(t, StatusGood, statusB)
	require.Equal(t, now, tsA)
	require.Equal(t, now, tsB)
	require.Equal(t, []byte{0x00, 0x01, 0x00, 0x02}, bufA)
	require.Equal(t, []byte{0x00, 0x03, 0x00, 0x04}, bufB)

	// Read message keeps its covered items for the next cycle.
	require.Len(t, m.covered, 2)
}

func TestWriteMessageDropsCoveredItemsOnComplete(t *testing.T) {
	a := newHoldingItem("A", 100)
	a.WriteTo([]byte{0x00, 0x2A, 0x00, 0x00})

	m := NewMessage(modbus.FuncCodeWriteMultipleRegisters, modbus.Memory4x, 1, KindWrite)
	require.True(t, m.AddItem(a, 8))
	m.PrepareToSend(BigEndian, HighWordFirst)
	m.SetComplete(StatusGood, time.Now(), BigEndian, HighWordFirst)

	require.Empty(t, m.covered)
}

// TestBadStatusPreservesBuffer is scenario S5: across many transactions
// where some replies are bad, the staging buffer only changes on good
// replies, while status and timestamp change on every reply.
func TestBadStatusPreservesBuffer(t *testing.T) {
	a := newHoldingItem("A", 100)

	var lastGoodBuf []byte
	for i := 0; i < 100; i++ {
		status := StatusGood
		if i%10 == 9 {
			status = StatusBadException(0x02)
		}
		ts := time.Now()

		m := NewMessage(modbus.FuncCodeReadHoldingRegisters, modbus.Memory4x, 1, KindRead)
		require.True(t, m.AddItem(a, 8))
		m.PrepareToSend(BigEndian, HighWordFirst)
		m.Words = []uint16{uint16(i), 0}
		m.SetComplete(status, ts, BigEndian, HighWordFirst)

		buf, gotStatus, gotTS := a.Snapshot()
		require.Equal(t, status, gotStatus)
		require.Equal(t, ts, gotTS)
		if status.IsGood() {
			lastGoodBuf = buf
		} else {
			require.Equal(t, lastGoodBuf, buf, "buffer must not change on a bad reply")
		}
	}
}

// TestPackThenDistributeRoundTrip is the round-trip law from spec.md §8:
// packing any set of RunItems then distributing a synthetic reply
// reproduces the original per-item byte patterns.
func TestPackThenDistributeRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "n")
		cap := uint16(rapid.IntRange(2, 32).Draw(rt, "cap"))

		used := map[uint16]bool{}
		var items []*RunItem
		original := map[uint16][]byte{}

		for i := 0; i < n; i++ {
			offset := uint16(rapid.IntRange(0, 200).Draw(rt, "offset"))
			if used[offset] || used[offset+1] {
				continue
			}
			used[offset] = true
			used[offset+1] = true

			ri := newHoldingItem("item", offset)
			val := EncodeUint32(uint32(rapid.IntRange(0, 1<<31-1).Draw(rt, "val")))
			ri.WriteTo(val)
			original[offset] = val
			items = append(items, ri)
		}
		if len(items) == 0 {
			return
		}

		msgs := packReadMessages(items, cap)
		for _, m := range msgs {
			require.LessOrEqual(t, m.Count, cap)
		}

		// Simulate the wire carrying back exactly what was staged, by
		// constructing each message's reply from the covered items' own
		// staged bytes (as PrepareToSend would for a write, used here only
		// to synthesize a deterministic "echo" reply for the round-trip
		// check).
		for _, m := range msgs {
			m.PrepareToSend(BigEndian, HighWordFirst)
			for _, c := range m.covered {
				data, _, _ := c.run.Snapshot()
				rel := int(c.offset - m.Offset)
				wire := encodeView(data, BigEndian, HighWordFirst)
				for i := 0; i < c.length; i++ {
					m.Words[rel+i] = (uint16(wire[i*2]) << 8) | uint16(wire[i*2+1])
				}
			}
			m.SetComplete(StatusGood, time.Now(), BigEndian, HighWordFirst)
		}

		for offset, want := range original {
			var ri *RunItem
			for _, candidate := range items {
				if candidate.Item().Address.Offset == offset {
					ri = candidate
					break
				}
			}
			got, status, _ := ri.Snapshot()
			require.True(t, status.IsGood())
			require.Equal(t, want, got)
		}
	})
}
