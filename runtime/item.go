package runtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/modbuscore/mbclient/modbus"
)

// Address is a (memory type, 0-based offset) pair. Offsets are displayed
// 1-based to users but stored 0-based; wrap-around past the 65536 boundary
// is rejected at construction.
type Address struct {
	Memory modbus.MemoryType
	Offset uint16
}

// NewAddress validates and builds an Address. length is the element's size
// in memory units (bits for bit-addressed memory, registers otherwise);
// offset+length must not wrap past 0xFFFF.
func NewAddress(mem modbus.MemoryType, offset uint16, length int) (Address, error) {
	if int(offset)+length > 0x10000 {
		return Address{}, fmt.Errorf("address %s:%d+%d wraps past 65536", mem, offset, length)
	}
	return Address{Memory: mem, Offset: offset}, nil
}

// Handle is an opaque, stable identifier for an Item, used for subscription
// lookup and for the runtime API's write_item_data/update_item calls.
type Handle uint64

// DeviceHandle identifies the owning DeviceRunnable.
type DeviceHandle uint64

// ByteArrayDigitalFormat controls how a ByteArray item's digits are rendered
// (only meaningful for display; the runtime carries it through untouched).
type ByteArrayDigitalFormat int

const (
	ByteArrayHex ByteArrayDigitalFormat = iota
	ByteArrayDec
)

// StringEncoding is the text encoding used by a String item.
type StringEncoding int

const (
	StringASCII StringEncoding = iota
	StringUTF8
	StringUTF16
	StringLatin1
)

// StringLengthType controls how a String item's variable length is carried
// on the wire (fixed, or prefixed with a length byte/word).
type StringLengthType int

const (
	StringLengthFixed StringLengthType = iota
	StringLengthPrefixByte
	StringLengthPrefixWord
)

// Item is a named, typed cell bound to a memory type + address on a specific
// device. Items are immutable once created: (device, address, format,
// length) are fixed for the Item's life; only a RunItem's staging buffer
// changes.
type Item struct {
	Handle        Handle
	Device        DeviceHandle
	Name          string
	Address       Address
	Format        Format
	ByteOrder     ByteOrder
	RegisterOrder RegisterOrder

	// ByteArray/String-specific attributes.
	ByteArraySeparator string
	ByteArrayDigital   ByteArrayDigitalFormat
	StringLengthType   StringLengthType
	StringEncoding     StringEncoding
	VariableLength     int // element count for ByteArray/String, in bytes

	// PeriodMS is the minimum interval, in milliseconds, between successive
	// issues of a read message covering this item. Inherited at item
	// creation from the item's data-view container.
	PeriodMS int64
}

// Length returns the item's element length in memory units: 1 bit for
// Memory0x/Memory1x, or a register count for Memory3x/Memory4x as
// determined by Format (and VariableLength for ByteArray/String).
func (it *Item) Length() int {
	if it.Address.Memory.IsBitAddressed() {
		return 1
	}
	return it.Format.RegisterCount(it.VariableLength)
}

// ByteLength returns the item's length in bytes on the wire, for
// word-addressed memory types (2 bytes per register).
func (it *Item) ByteLength() int {
	if it.Address.Memory.IsBitAddressed() {
		return 1
	}
	return it.Length() * 2
}

// Subscriber receives (bytes, status, timestamp) on every Message completion
// covering the RunItem it subscribed to.
type Subscriber func(data []byte, status StatusCode, timestamp time.Time)

// RunItem is the runtime wrapper around an Item: a staging buffer, a
// write-pending flag, last status/timestamp, and subscribers. The pair
// (address, length) is stable for the RunItem's entire life; only the
// staging buffer and bookkeeping mutate.
type RunItem struct {
	item *Item

	mu           sync.Mutex
	buffer       []byte
	writePending []byte // non-nil when a write is staged and not yet popped
	lastStatus   StatusCode
	lastTime     time.Time
	subscribers  []Subscriber
}

// NewRunItem wraps an Item for runtime use.
func NewRunItem(item *Item) *RunItem {
	return &RunItem{
		item:   item,
		buffer: make([]byte, item.ByteLength()),
	}
}

func (ri *RunItem) Item() *Item { return ri.item }

// Subscribe registers a callback invoked after every completed Message that
// covers this RunItem. Returns an unsubscribe function.
func (ri *RunItem) Subscribe(cb Subscriber) (unsubscribe func()) {
	ri.mu.Lock()
	idx := len(ri.subscribers)
	ri.subscribers = append(ri.subscribers, cb)
	ri.mu.Unlock()

	return func() {
		ri.mu.Lock()
		defer ri.mu.Unlock()
		// Clear the slot rather than removing it, so the indices captured by
		// other subscriptions stay valid.
		if idx < len(ri.subscribers) {
			ri.subscribers[idx] = nil
		}
	}
}

// Snapshot returns a copy of the current staging buffer, last status and
// last timestamp, safe to read without racing a concurrent update.
func (ri *RunItem) Snapshot() ([]byte, StatusCode, time.Time) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	out := make([]byte, len(ri.buffer))
	copy(out, ri.buffer)
	return out, ri.lastStatus, ri.lastTime
}

// UpdateFromWire is called by the owning Message on completion for every
// RunItem it covers. wireSlice is the payload window at
// [item.offset-message.offset, +item.length) relative to the message,
// already sliced by the caller. byteOrder/registerOrder must already have
// device defaults resolved (see ResolveByteOrder/ResolveRegisterOrder).
// If status is bad, the buffer is left untouched but status+timestamp still
// propagate to subscribers.
func (ri *RunItem) UpdateFromWire(wireSlice []byte, status StatusCode, timestamp time.Time, byteOrder ByteOrder, registerOrder RegisterOrder) {
	ri.mu.Lock()
	if status.IsGood() {
		view := decodeView(wireSlice, byteOrder, registerOrder)
		copy(ri.buffer, view)
	}
	ri.lastStatus = status
	ri.lastTime = timestamp
	out := make([]byte, len(ri.buffer))
	copy(out, ri.buffer)
	subs := make([]Subscriber, len(ri.subscribers))
	copy(subs, ri.subscribers)
	ri.mu.Unlock()

	for _, cb := range subs {
		if cb != nil {
			cb(out, status, timestamp)
		}
	}
}

// WriteTo is the user-initiated write path: it copies encoded bytes into the
// staging buffer and marks the item dirty for write. Idempotent within a
// tick — repeated writes before the pending write is popped simply overwrite
// the previously staged bytes.
func (ri *RunItem) WriteTo(data []byte) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	ri.writePending = buf
	copy(ri.buffer, data)
}

// PopWritePending atomically clears and returns the write-pending bytes, or
// nil if no write is staged. Called by the device planner when building a
// write Message.
func (ri *RunItem) PopWritePending() []byte {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if ri.writePending == nil {
		return nil
	}
	out := ri.writePending
	ri.writePending = nil
	return out
}

// HasWritePending reports whether a write is staged without consuming it.
func (ri *RunItem) HasWritePending() bool {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	return ri.writePending != nil
}
