package runtime

import (
	"encoding/binary"
	"time"

	"github.com/modbuscore/mbclient/modbus"
)

// MessageState is the lifecycle state of a Message.
type MessageState int

const (
	MessageBuilding MessageState = iota
	MessageReady
	MessageInFlight
	MessageComplete
)

// MessageKind distinguishes the three traffic classes a DeviceRunnable
// arbitrates between; it governs priority and deletion policy, not wire
// format.
type MessageKind int

const (
	KindRead MessageKind = iota
	KindWrite
	KindExternal
)

type coveredItem struct {
	run    *RunItem
	offset uint16 // item's address offset, memory units
	length int    // item's length, memory units
}

// Message is one Modbus request/response transaction in flight or queued.
// There is conceptually one Message type per function code, but they share
// this single representation: a (function, memory type, offset, count)
// addressing plan, a payload buffer in the natural shape for that memory
// type, and the list of RunItems the payload will be redistributed to on
// completion.
type Message struct {
	Function modbus.FunctionCode
	Memory   modbus.MemoryType
	UnitID   modbus.SlaveID
	Kind     MessageKind

	Offset uint16
	Count  uint16

	Bits  []bool   // valid when Memory.IsBitAddressed()
	Words []uint16 // valid otherwise

	covered               []coveredItem
	deleteItemsOnComplete bool

	// externalBits/externalWords carry the write payload for an external
	// message built directly by Runtime.SendMessage, which has no covered
	// RunItems for PrepareToSend to snapshot from.
	externalBits  []bool
	externalWords []uint16

	State     MessageState
	Status    StatusCode
	Timestamp time.Time // last completion time; zero until first completion

	PeriodMS int64 // read messages only: min period of covered items

	// externalDone is closed when an external (SendMessage) message
	// completes, letting callers block on its result.
	externalDone chan struct{}
}

// NewMessage creates an empty Message for the given function/memory/unit.
// Its address range is unset until the first successful AddItem.
func NewMessage(function modbus.FunctionCode, memory modbus.MemoryType, unit modbus.SlaveID, kind MessageKind) *Message {
	m := &Message{
		Function: function,
		Memory:   memory,
		UnitID:   unit,
		Kind:     kind,
		State:    MessageBuilding,
	}
	m.deleteItemsOnComplete = kind == KindWrite
	if kind == KindExternal {
		m.externalDone = make(chan struct{})
	}
	return m
}

// SetExternalPayload supplies the write payload for an external message with
// no covered RunItems (Runtime.SendMessage builds the PDU directly from
// caller-supplied bits/words rather than packing Items). Ignored for read
// functions.
func (m *Message) SetExternalPayload(bits []bool, words []uint16) {
	m.externalBits = bits
	m.externalWords = words
}

// AddItem attempts to fold ri into m following the packing rule in the
// design: the memory type must match, and the hypothetical widened range
// must not exceed cap (the owning device's per-function limit for m's
// function). On success m's range widens (or, for an empty message, is set
// to exactly the item's own range) and ri is appended to the covered list;
// on failure m is unchanged and the caller should start a new Message.
func (m *Message) AddItem(ri *RunItem, cap uint16) bool {
	it := ri.Item()
	if it.Address.Memory != m.Memory {
		return false
	}
	length := it.Length()

	if len(m.covered) == 0 {
		if length > int(cap) {
			return false
		}
		m.Offset = it.Address.Offset
		m.Count = uint16(length)
		m.covered = append(m.covered, coveredItem{run: ri, offset: it.Address.Offset, length: length})
		if m.Kind == KindRead {
			m.PeriodMS = it.PeriodMS
		}
		return true
	}

	newStart := m.Offset
	if it.Address.Offset < newStart {
		newStart = it.Address.Offset
	}
	itemEnd := it.Address.Offset + uint16(length)
	msgEnd := m.Offset + m.Count
	newEnd := msgEnd
	if itemEnd > newEnd {
		newEnd = itemEnd
	}
	if int(newEnd)-int(newStart) > int(cap) {
		return false
	}

	m.Offset = newStart
	m.Count = newEnd - newStart
	m.covered = append(m.covered, coveredItem{run: ri, offset: it.Address.Offset, length: length})

	if m.Kind == KindRead && it.PeriodMS < m.PeriodMS {
		m.PeriodMS = it.PeriodMS
	}
	return true
}

// IsOnDuty reports whether a read Message is due to be reissued: the time
// since its last completion is at least its period. A never-completed
// message (zero Timestamp) is always due.
func (m *Message) IsOnDuty(now time.Time) bool {
	if m.Timestamp.IsZero() {
		return true
	}
	return now.Sub(m.Timestamp) >= time.Duration(m.PeriodMS)*time.Millisecond
}

// PrepareToSend resets the message's payload ahead of its first transport
// attempt. For read messages this (re)allocates the reply buffer. For write
// messages it pops each covered item's write-pending bytes (§4.1
// pop_write_pending) into the wire payload, applying the item's byte/
// register order resolved against the device defaults; a covered item with
// nothing currently pending (already popped by an earlier PrepareToSend on
// the same message) falls back to its last staged buffer.
func (m *Message) PrepareToSend(deviceByteOrder ByteOrder, deviceRegisterOrder RegisterOrder) {
	m.State = MessageReady
	if m.Memory.IsBitAddressed() {
		m.Bits = make([]bool, m.Count)
	} else {
		m.Words = make([]uint16, m.Count)
	}

	if m.Kind == KindRead {
		return
	}

	if m.Kind == KindExternal && len(m.covered) == 0 {
		if m.Memory.IsBitAddressed() {
			copy(m.Bits, m.externalBits)
		} else {
			copy(m.Words, m.externalWords)
		}
		return
	}

	for _, c := range m.covered {
		it := c.run.Item()
		data := c.run.PopWritePending()
		if data == nil {
			data, _, _ = c.run.Snapshot()
		}
		relOffset := int(c.offset - m.Offset)

		if m.Memory.IsBitAddressed() {
			m.Bits[relOffset] = len(data) > 0 && data[0] != 0
			continue
		}

		byteOrder := ResolveByteOrder(it.ByteOrder, deviceByteOrder)
		regOrder := ResolveRegisterOrder(it.RegisterOrder, deviceRegisterOrder)
		wire := encodeView(data, byteOrder, regOrder)
		for i := 0; i < c.length; i++ {
			m.Words[relOffset+i] = binary.BigEndian.Uint16(wire[i*2 : i*2+2])
		}
	}
}

// SetComplete stamps the message with its terminal status and timestamp,
// then redistributes the payload to every covered RunItem by offset
// arithmetic. Write messages drop their covered items afterward (they were
// transient carriers); read messages keep theirs for the next cycle.
func (m *Message) SetComplete(status StatusCode, timestamp time.Time, deviceByteOrder ByteOrder, deviceRegisterOrder RegisterOrder) {
	m.Status = status
	m.Timestamp = timestamp
	m.State = MessageComplete

	for _, c := range m.covered {
		it := c.run.Item()
		byteOrder := ResolveByteOrder(it.ByteOrder, deviceByteOrder)
		regOrder := ResolveRegisterOrder(it.RegisterOrder, deviceRegisterOrder)
		relOffset := int(c.offset - m.Offset)

		var view []byte
		if status.IsGood() {
			if m.Memory.IsBitAddressed() {
				view = []byte{0}
				if relOffset < len(m.Bits) && m.Bits[relOffset] {
					view[0] = 1
				}
			} else {
				wire := make([]byte, c.length*2)
				for i := 0; i < c.length; i++ {
					binary.BigEndian.PutUint16(wire[i*2:], m.Words[relOffset+i])
				}
				view = wire
			}
		}
		c.run.UpdateFromWire(view, status, timestamp, byteOrder, regOrder)
	}

	if m.deleteItemsOnComplete {
		m.covered = nil
	}
	if m.externalDone != nil {
		close(m.externalDone)
	}
}

// Wait blocks until an external Message reaches a terminal status. Only
// meaningful for messages created via Runtime.SendMessage.
func (m *Message) Wait() {
	if m.externalDone != nil {
		<-m.externalDone
	}
}
