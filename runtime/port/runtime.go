package port

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modbuscore/mbclient/modbus"
	"github.com/modbuscore/mbclient/runtime"
)

// Runtime is the top-level boundary the GUI/API layer talks to (§4.5, §6.1):
// it owns every configured PortRunnable, the DeviceRunnables they arbitrate,
// and the RunItem registry used to resolve handles for WriteItemData and
// Subscribe. Callers (a project loader, a test harness) build the
// PortRunnables/DeviceRunnables themselves and register them here; Runtime
// itself only sequences Start/Stop and routes the three boundary calls.
type Runtime struct {
	log *zap.SugaredLogger

	mu      sync.Mutex
	ports   []*PortRunnable
	devices map[runtime.DeviceHandle]*DeviceRunnable
	items   map[runtime.Handle]*runtime.RunItem

	cancel context.CancelFunc
}

// NewRuntime builds an empty Runtime. Register ports and devices with
// AddPort/RegisterDevice before calling Start.
func NewRuntime(log *zap.SugaredLogger) *Runtime {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runtime{
		log:     log,
		devices: make(map[runtime.DeviceHandle]*DeviceRunnable),
		items:   make(map[runtime.Handle]*runtime.RunItem),
	}
}

// AddPort registers a configured PortRunnable. Call before Start.
func (r *Runtime) AddPort(p *PortRunnable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports = append(r.ports, p)
}

// RegisterDevice makes dev resolvable by handle for SendMessage, and every
// one of items resolvable by its own handle for WriteItemData/Subscribe.
// Call before Start. The maps are guarded by the Runtime's mutex, which
// SendMessage/WriteItemData/UpdateItem/Subscribe also take for lookups.
func (r *Runtime) RegisterDevice(handle runtime.DeviceHandle, dev *DeviceRunnable, items []*runtime.RunItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[handle] = dev
	for _, ri := range items {
		r.items[ri.Item().Handle] = ri
	}
}

// Start launches every registered port's arbiter goroutine. Safe to call
// once; a later Stop (or cancellation of ctx) ends all of them.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	ports := append([]*PortRunnable(nil), r.ports...)
	r.mu.Unlock()

	r.log.Infow("runtime starting", "ports", len(ports))
	for _, p := range ports {
		p.Start(ctx)
	}
}

// Stop signals shutdown to every port. Per §5, a message already in flight
// is allowed to complete; messages still queued are not sent. Stop does not
// block waiting for that — callers that need to wait for an in-flight
// SendMessage result call Message.Wait on it.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	for _, p := range r.ports {
		p.Stop()
	}
	r.log.Infow("runtime stopped")
}

// externalFunctionMemory maps a supported external function code to the
// memory type it addresses, or MemoryNone for an unsupported code. Function
// 99 and any other code outside the nine in §6.2 falls through to MemoryNone.
func externalFunctionMemory(fn modbus.FunctionCode) (modbus.MemoryType, bool) {
	switch fn {
	case modbus.FuncCodeReadCoils, modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteMultipleCoils:
		return modbus.Memory0x, true
	case modbus.FuncCodeReadDiscreteInputs:
		return modbus.Memory1x, true
	case modbus.FuncCodeReadInputRegisters:
		return modbus.Memory3x, true
	case modbus.FuncCodeReadHoldingRegisters, modbus.FuncCodeWriteSingleRegister, modbus.FuncCodeWriteMultipleRegisters:
		return modbus.Memory4x, true
	case modbus.FuncCodeReadExceptionStatus:
		return modbus.MemoryNone, true
	default:
		return modbus.MemoryNone, false
	}
}

func isExternalWriteFunction(fn modbus.FunctionCode) bool {
	switch fn {
	case modbus.FuncCodeWriteSingleCoil, modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		return true
	default:
		return false
	}
}

// SendMessage enqueues an ad hoc, one-shot PDU ahead of any queued write or
// on-duty read on dev (§6.1; priority external > write > read, §4.3).
// offset/count address the request directly rather than through an Item;
// bits/words supply the payload for a write function and are ignored for
// reads. An unsupported function code, or a write targeting a read-only
// memory type, is an Invalid-argument (§7): the returned Message is already
// Complete with StatusBadInvalidArgument and the transport is never touched
// (scenario S6). Callers that want to block for the result call
// Message.Wait on the returned value.
func (r *Runtime) SendMessage(dev runtime.DeviceHandle, fn modbus.FunctionCode, offset, count uint16, bits []bool, words []uint16) (*runtime.Message, error) {
	r.mu.Lock()
	d, ok := r.devices[dev]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mbclient/runtimeport: unknown device handle %d", dev)
	}

	mem, supported := externalFunctionMemory(fn)
	m := runtime.NewMessage(fn, mem, d.Unit(), runtime.KindExternal)
	m.Offset = offset
	m.Count = count

	if !supported || (isExternalWriteFunction(fn) && !mem.IsWritable()) {
		m.SetComplete(runtime.StatusBadInvalidArgument, time.Now(), runtime.OrderDefault, runtime.RegisterOrderDefault)
		return m, nil
	}

	if isExternalWriteFunction(fn) {
		m.SetExternalPayload(bits, words)
	}

	d.SubmitExternal(m)
	return m, nil
}

// WriteItemData stages data into item's RunItem, marks it dirty for write,
// and packs it into (or opens) the owning device's next write Message
// (§4.5, §6.1). Returns an error without touching the RunItem if item is not
// a registered handle or its memory type is read-only.
func (r *Runtime) WriteItemData(item runtime.Handle, data []byte) error {
	r.mu.Lock()
	ri, ok := r.items[item]
	var dev *DeviceRunnable
	if ok {
		dev, ok = r.devices[ri.Item().Device]
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("mbclient/runtimeport: unknown item handle %d", item)
	}
	if !ri.Item().Address.Memory.IsWritable() {
		return fmt.Errorf("mbclient/runtimeport: item %q: memory type %s is read-only", ri.Item().Name, ri.Item().Address.Memory)
	}
	ri.WriteTo(data)
	dev.QueueWrite(ri)
	return nil
}

// UpdateItem pushes (data, status, timestamp) into item's RunItem exactly as
// a completing Message covering it would, resolving the item's byte/register
// order against its owning device's defaults. Normally Messages do this
// themselves on completion; the boundary method exists so a test harness can
// inject synthetic responses without a transport.
func (r *Runtime) UpdateItem(item runtime.Handle, data []byte, status runtime.StatusCode, timestamp time.Time) error {
	r.mu.Lock()
	ri, ok := r.items[item]
	var dev *DeviceRunnable
	if ok {
		dev, ok = r.devices[ri.Item().Device]
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("mbclient/runtimeport: unknown item handle %d", item)
	}
	it := ri.Item()
	ri.UpdateFromWire(data, status, timestamp,
		runtime.ResolveByteOrder(it.ByteOrder, dev.ByteOrder()),
		runtime.ResolveRegisterOrder(it.RegisterOrder, dev.RegisterOrder()))
	return nil
}

// Subscribe registers cb to receive (bytes, status, timestamp) on every
// Message completion covering item. Returns an unsubscribe func.
func (r *Runtime) Subscribe(item runtime.Handle, cb runtime.Subscriber) (func(), error) {
	r.mu.Lock()
	ri, ok := r.items[item]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mbclient/runtimeport: unknown item handle %d", item)
	}
	return ri.Subscribe(cb), nil
}
