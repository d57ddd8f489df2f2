package port

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modbuscore/mbclient/modbus"
	"github.com/modbuscore/mbclient/runtime"
)

type deviceState int

const (
	statePause deviceState = iota
	stateExecExternal
	stateExecWrite
	stateExecRead
)

// DeviceConfig is the static, device-scoped configuration a DeviceRunnable
// needs: its unit/slave ID, its byte/register order defaults, and its
// per-function packing caps.
type DeviceConfig struct {
	Name          string
	Unit          modbus.SlaveID
	ByteOrder     runtime.ByteOrder
	RegisterOrder runtime.RegisterOrder

	MaxReadCoils              uint16
	MaxReadDiscreteInputs     uint16
	MaxReadInputRegisters     uint16
	MaxReadHoldingRegisters   uint16
	MaxWriteMultipleCoils     uint16
	MaxWriteMultipleRegisters uint16
}

func (c DeviceConfig) maxReadCount(mem modbus.MemoryType) uint16 {
	switch mem {
	case modbus.Memory0x:
		return c.MaxReadCoils
	case modbus.Memory1x:
		return c.MaxReadDiscreteInputs
	case modbus.Memory3x:
		return c.MaxReadInputRegisters
	case modbus.Memory4x:
		return c.MaxReadHoldingRegisters
	default:
		return 0
	}
}

func (c DeviceConfig) maxWriteCount(mem modbus.MemoryType) uint16 {
	switch mem {
	case modbus.Memory0x:
		return c.MaxWriteMultipleCoils
	case modbus.Memory4x:
		return c.MaxWriteMultipleRegisters
	default:
		return 0
	}
}

func readFunctionFor(mem modbus.MemoryType) modbus.FunctionCode {
	switch mem {
	case modbus.Memory0x:
		return modbus.FuncCodeReadCoils
	case modbus.Memory1x:
		return modbus.FuncCodeReadDiscreteInputs
	case modbus.Memory3x:
		return modbus.FuncCodeReadInputRegisters
	case modbus.Memory4x:
		return modbus.FuncCodeReadHoldingRegisters
	default:
		return 0
	}
}

func writeFunctionFor(mem modbus.MemoryType) modbus.FunctionCode {
	switch mem {
	case modbus.Memory0x:
		return modbus.FuncCodeWriteMultipleCoils
	case modbus.Memory4x:
		return modbus.FuncCodeWriteMultipleRegisters
	default:
		return 0
	}
}

// singleWriteFunctionFor returns the single-element write function for mem,
// or 0 if mem is not writable. §4.2 point 3: single-coil/single-register
// writes always have count 1, so a lone item gets packed onto the cheaper
// single function rather than a multiple-write with count 1.
func singleWriteFunctionFor(mem modbus.MemoryType) modbus.FunctionCode {
	switch mem {
	case modbus.Memory0x:
		return modbus.FuncCodeWriteSingleCoil
	case modbus.Memory4x:
		return modbus.FuncCodeWriteSingleRegister
	default:
		return 0
	}
}

// capForWriteFunction returns the packing cap a write Message of function fn
// accepts: always 1 for the single-element functions, the device's
// multiple-write cap otherwise.
func (c DeviceConfig) capForWriteFunction(fn modbus.FunctionCode, mem modbus.MemoryType) uint16 {
	switch fn {
	case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister:
		return 1
	default:
		return c.maxWriteCount(mem)
	}
}

// DeviceRunnable is the per-device, non-blocking state machine that packs
// registered items into Messages and arbitrates between an external one-shot
// message, queued writes and on-duty periodic reads: external beats write
// beats read. Every Run call either finishes a full pause-to-pause cycle or
// returns promptly because the current message's transport call is still
// StatusProcessing, per the cooperative contract the owning PortRunnable
// relies on.
type DeviceRunnable struct {
	cfg      DeviceConfig
	contract Contract
	log      *zap.SugaredLogger

	items []*runtime.RunItem

	mu            sync.Mutex
	readMessages  []*runtime.Message
	writeMessages []*runtime.Message
	external      []*runtime.Message

	state   deviceState
	current *runtime.Message
}

// NewDeviceRunnable builds a device and performs the one-shot read-message
// packing pass over items at construction time; items registered later are
// not folded into the read schedule (see the design notes on this choice),
// though they remain reachable via external messages and writes.
func NewDeviceRunnable(cfg DeviceConfig, contract Contract, items []*runtime.RunItem, log *zap.SugaredLogger) *DeviceRunnable {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	d := &DeviceRunnable{cfg: cfg, contract: contract, items: items, log: log}
	d.createReadMessages()
	return d
}

func (d *DeviceRunnable) Name() string { return d.cfg.Name }

// Unit returns the device's Modbus unit/slave id, threaded through every
// transport call the device makes (§4.3, SUPPLEMENTED FEATURES #3).
func (d *DeviceRunnable) Unit() modbus.SlaveID { return d.cfg.Unit }

// ByteOrder and RegisterOrder expose the device's defaults, the fallback an
// item with "Default" ordering resolves against at completion time.
func (d *DeviceRunnable) ByteOrder() runtime.ByteOrder { return d.cfg.ByteOrder }

func (d *DeviceRunnable) RegisterOrder() runtime.RegisterOrder { return d.cfg.RegisterOrder }

func (d *DeviceRunnable) createReadMessages() {
	for _, ri := range d.items {
		it := ri.Item()
		cap := d.cfg.maxReadCount(it.Address.Memory)
		packed := false
		for _, m := range d.readMessages {
			if m.Memory == it.Address.Memory && m.AddItem(ri, cap) {
				packed = true
				break
			}
		}
		if packed {
			continue
		}
		fn := readFunctionFor(it.Address.Memory)
		if fn == 0 {
			d.log.Warnw("dropping item with unsupported memory type", "device", d.cfg.Name, "item", it.Name, "memory", it.Address.Memory.String())
			continue
		}
		m := runtime.NewMessage(fn, it.Address.Memory, d.cfg.Unit, runtime.KindRead)
		if m.AddItem(ri, cap) {
			d.readMessages = append(d.readMessages, m)
		}
	}
}

// SubmitExternal enqueues an ad hoc message for one-shot dispatch ahead of
// any queued write or on-duty read. Safe for concurrent callers; the queue
// itself is drained only from the device's own Run goroutine.
func (d *DeviceRunnable) SubmitExternal(m *runtime.Message) {
	d.mu.Lock()
	d.external = append(d.external, m)
	d.mu.Unlock()
}

// QueueWrite packs ri into the device's pending write-message FIFO,
// coalescing with an existing compatible message when possible. An item of
// element length 1 that fits no queued message gets its own
// single-coil/single-register message (§4.2 point 3); since such a message
// holds exactly one element, a later length-1 item at another offset opens a
// further single message rather than coalescing with it. Longer items go
// onto the multiple-write function. Called by Runtime.WriteItemData once the
// item's staging buffer has been updated.
func (d *DeviceRunnable) QueueWrite(ri *runtime.RunItem) {
	it := ri.Item()
	mem := it.Address.Memory

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range d.writeMessages {
		if m.Memory == mem && m.AddItem(ri, d.cfg.capForWriteFunction(m.Function, mem)) {
			return
		}
	}

	if it.Length() == 1 {
		if fn := singleWriteFunctionFor(mem); fn != 0 {
			m := runtime.NewMessage(fn, mem, d.cfg.Unit, runtime.KindWrite)
			if m.AddItem(ri, 1) {
				d.writeMessages = append(d.writeMessages, m)
			}
			return
		}
	}

	fn := writeFunctionFor(mem)
	if fn == 0 {
		d.log.Warnw("write requested for non-writable memory type", "device", d.cfg.Name, "memory", mem.String())
		return
	}
	m := runtime.NewMessage(fn, mem, d.cfg.Unit, runtime.KindWrite)
	if m.AddItem(ri, d.cfg.maxWriteCount(mem)) {
		d.writeMessages = append(d.writeMessages, m)
	}
}

func (d *DeviceRunnable) popExternal() (*runtime.Message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.external) == 0 {
		return nil, false
	}
	m := d.external[0]
	d.external = d.external[1:]
	return m, true
}

func (d *DeviceRunnable) hasExternal() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.external) > 0
}

func (d *DeviceRunnable) popWriteMessage() (*runtime.Message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.writeMessages) == 0 {
		return nil, false
	}
	m := d.writeMessages[0]
	d.writeMessages = d.writeMessages[1:]
	return m, true
}

func (d *DeviceRunnable) hasWriteMessage() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writeMessages) > 0
}

// hasReadMessageOnDuty finds the first due read message, rotating it to the
// back of the list so later messages get fair access on subsequent ticks
// (the fairness rule the design carries from the original's remove-and-
// requeue-to-tail rotation).
func (d *DeviceRunnable) hasReadMessageOnDuty(now time.Time) (*runtime.Message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, m := range d.readMessages {
		if m.IsOnDuty(now) {
			d.readMessages = append(d.readMessages[:i:i], d.readMessages[i+1:]...)
			d.readMessages = append(d.readMessages, m)
			return m, true
		}
	}
	return nil, false
}

// Run advances the device's state machine. It returns as soon as the
// current message's transport call reports StatusProcessing, once that
// message reaches a terminal status and the device is back in pause, or
// when nothing is due; at most one message completes per call. The switch/loop
// shape mirrors the original's run(): a dispatch loop with an explicit
// "repeat without yielding" flag.
func (d *DeviceRunnable) Run() {
	again := true
	for again {
		again = false
		switch d.state {
		case statePause:
			if d.hasExternal() {
				m, ok := d.popExternal()
				if !ok {
					break
				}
				m.PrepareToSend(d.cfg.ByteOrder, d.cfg.RegisterOrder)
				d.current = m
				d.state = stateExecExternal
				again = true
				break
			}
			if d.hasWriteMessage() {
				m, ok := d.popWriteMessage()
				if !ok {
					break
				}
				m.PrepareToSend(d.cfg.ByteOrder, d.cfg.RegisterOrder)
				d.current = m
				d.state = stateExecWrite
				again = true
				break
			}
			if m, ok := d.hasReadMessageOnDuty(time.Now()); ok {
				m.PrepareToSend(d.cfg.ByteOrder, d.cfg.RegisterOrder)
				d.current = m
				d.state = stateExecRead
				again = true
			}
		case stateExecExternal:
			status := d.exec(d.current, true)
			if status.IsProcessing() {
				return
			}
			d.current = nil
			d.state = statePause
		case stateExecWrite:
			status := d.exec(d.current, true)
			if status.IsProcessing() {
				return
			}
			d.current = nil
			d.state = statePause
		case stateExecRead:
			status := d.exec(d.current, false)
			if status.IsProcessing() {
				return
			}
			d.current = nil
			d.state = statePause
		}
	}
}

// exec dispatches m's function code to the Contract, logs a bad completion
// once (with the device name, per the design's logging convention) and
// stamps the message complete when the call has reached a terminal status.
// allowWrites distinguishes write-capable exec paths (external, write) from
// the read-only exec path, matching the original's separate
// execWriteMessage/execReadMessage switches.
func (d *DeviceRunnable) exec(m *runtime.Message, allowWrites bool) runtime.StatusCode {
	var status runtime.StatusCode
	switch m.Function {
	case modbus.FuncCodeReadCoils:
		status = d.contract.ReadCoils(m.Offset, m.Count, m.Bits)
	case modbus.FuncCodeReadDiscreteInputs:
		status = d.contract.ReadDiscreteInputs(m.Offset, m.Count, m.Bits)
	case modbus.FuncCodeReadInputRegisters:
		status = d.contract.ReadInputRegisters(m.Offset, m.Count, m.Words)
	case modbus.FuncCodeReadHoldingRegisters:
		status = d.contract.ReadHoldingRegisters(m.Offset, m.Count, m.Words)
	case modbus.FuncCodeReadExceptionStatus:
		var ec uint8
		status = d.contract.ReadExceptionStatus(&ec)
		if status.IsGood() {
			m.Words = []uint16{uint16(ec)}
		}
	case modbus.FuncCodeWriteSingleCoil:
		if !allowWrites {
			status = runtime.StatusBadInvalidArgument
			break
		}
		status = d.contract.WriteSingleCoil(m.Offset, len(m.Bits) > 0 && m.Bits[0])
	case modbus.FuncCodeWriteSingleRegister:
		if !allowWrites {
			status = runtime.StatusBadInvalidArgument
			break
		}
		word := uint16(0)
		if len(m.Words) > 0 {
			word = m.Words[0]
		}
		status = d.contract.WriteSingleRegister(m.Offset, word)
	case modbus.FuncCodeWriteMultipleCoils:
		if !allowWrites {
			status = runtime.StatusBadInvalidArgument
			break
		}
		status = d.contract.WriteMultipleCoils(m.Offset, m.Count, m.Bits)
	case modbus.FuncCodeWriteMultipleRegisters:
		if !allowWrites {
			status = runtime.StatusBadInvalidArgument
			break
		}
		status = d.contract.WriteMultipleRegisters(m.Offset, m.Count, m.Words)
	default:
		status = runtime.StatusBadInvalidArgument
	}

	if status.IsProcessing() {
		return status
	}
	if status.IsBad() {
		d.log.Warnw("modbus exchange failed", "device", d.cfg.Name, "function", m.Function, "error", d.contract.LastErrorText())
	}
	m.SetComplete(status, time.Now(), d.cfg.ByteOrder, d.cfg.RegisterOrder)
	return status
}
