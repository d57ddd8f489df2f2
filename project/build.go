package project

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/modbuscore/mbclient/modbus"
	"github.com/modbuscore/mbclient/runtime"
	runtimeport "github.com/modbuscore/mbclient/runtime/port"
	"github.com/modbuscore/mbclient/transport"
)

// handleAllocator hands out monotonically increasing Item/Device handles
// while a Project is being built into a Runtime. Handles are only unique
// within one Build call; they are not persisted.
type handleAllocator struct {
	next uint64
}

func (h *handleAllocator) deviceHandle() runtime.DeviceHandle {
	h.next++
	return runtime.DeviceHandle(h.next)
}

func (h *handleAllocator) itemHandle() runtime.Handle {
	h.next++
	return runtime.Handle(h.next)
}

// Registry maps the human-readable device/item names a project file uses
// to the opaque handles Runtime.SendMessage/WriteItemData/Subscribe expect.
// Built alongside a Runtime by Build, since the runtime package itself knows
// nothing about names — only stable handles (spec.md §3 RunItem invariant).
type Registry struct {
	Devices map[string]runtime.DeviceHandle
	// Items is keyed "device/item"; item names are only unique within their
	// owning device.
	Items map[string]runtime.Handle
}

func newRegistry() *Registry {
	return &Registry{
		Devices: make(map[string]runtime.DeviceHandle),
		Items:   make(map[string]runtime.Handle),
	}
}

// Build instantiates a runtimeport.Runtime from p: one PortRunnable per
// PortConfig, each owning an AsyncPort over the configured transport and one
// DeviceRunnable per DeviceConfig, fed the RunItems packed from its
// DataViews. The returned Runtime is registered but not started; call
// Start(ctx) to launch it (spec.md §6.1). The accompanying Registry resolves
// the project file's device/item names to the handles Runtime's boundary
// calls take.
func Build(p *Project, log *zap.SugaredLogger) (*runtimeport.Runtime, *Registry, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	rt := runtimeport.NewRuntime(log)
	alloc := &handleAllocator{}
	reg := newRegistry()

	for _, pc := range p.Ports {
		// Validate and translate every device's configuration before opening
		// the transport, so a config mistake surfaces as a config error
		// rather than after (or masked by) a connect attempt.
		type plannedDevice struct {
			handle   runtime.DeviceHandle
			cfg      runtimeport.DeviceConfig
			runItems []*runtime.RunItem
		}
		planned := make([]plannedDevice, 0, len(pc.Devices))
		for _, dc := range pc.Devices {
			byteOrder, err := parseByteOrder(dc.ByteOrder)
			if err != nil {
				return nil, nil, fmt.Errorf("project: device %q: %w", dc.Name, err)
			}
			regOrder, err := parseRegisterOrder(dc.RegisterOrder)
			if err != nil {
				return nil, nil, fmt.Errorf("project: device %q: %w", dc.Name, err)
			}

			devHandle := alloc.deviceHandle()
			reg.Devices[dc.Name] = devHandle

			runItems, err := buildItems(dc, devHandle, alloc, dc.Name, reg)
			if err != nil {
				return nil, nil, fmt.Errorf("project: device %q: %w", dc.Name, err)
			}

			planned = append(planned, plannedDevice{
				handle: devHandle,
				cfg: runtimeport.DeviceConfig{
					Name:                      dc.Name,
					Unit:                      modbus.SlaveID(dc.Unit),
					ByteOrder:                 byteOrder,
					RegisterOrder:             regOrder,
					MaxReadCoils:              dc.MaxReadCoils,
					MaxReadDiscreteInputs:     dc.MaxReadDiscreteInputs,
					MaxReadInputRegisters:     dc.MaxReadInputRegisters,
					MaxReadHoldingRegisters:   dc.MaxReadHoldingRegisters,
					MaxWriteMultipleCoils:     dc.MaxWriteMultipleCoils,
					MaxWriteMultipleRegisters: dc.MaxWriteMultipleRegisters,
				},
				runItems: runItems,
			})
		}

		t, err := buildTransport(pc)
		if err != nil {
			return nil, nil, fmt.Errorf("project: port %q: %w", pc.Name, err)
		}
		async, err := runtimeport.NewAsyncPort(t, clientConfigFor(pc))
		if err != nil {
			return nil, nil, fmt.Errorf("project: port %q: %w", pc.Name, err)
		}

		devices := make([]*runtimeport.DeviceRunnable, 0, len(planned))
		for _, pd := range planned {
			contract := runtimeport.NewDeviceContract(async, pd.cfg.Unit)
			dev := runtimeport.NewDeviceRunnable(pd.cfg, contract, pd.runItems, log)
			devices = append(devices, dev)
			rt.RegisterDevice(pd.handle, dev, pd.runItems)
		}

		tick := time.Duration(pc.TickMS) * time.Millisecond
		port := runtimeport.NewPortRunnable(pc.Name, devices, tick, log)
		rt.AddPort(port)
	}

	return rt, reg, nil
}

func buildTransport(pc PortConfig) (transport.Transport, error) {
	switch pc.Transport {
	case "tcp", "":
		if pc.TCPAddress == "" {
			return nil, fmt.Errorf("tcp transport requires tcp_address")
		}
		return transport.NewTCPTransport(pc.TCPAddress), nil
	case "udp":
		if pc.TCPAddress == "" {
			return nil, fmt.Errorf("udp transport requires tcp_address")
		}
		return transport.NewUDPTransport(pc.TCPAddress), nil
	case "rtu_over_tcp":
		if pc.TCPAddress == "" {
			return nil, fmt.Errorf("rtu_over_tcp transport requires tcp_address")
		}
		return transport.NewRTUOverTCPTransport(pc.TCPAddress), nil
	case "rtu":
		sc, err := serialConfig(pc)
		if err != nil {
			return nil, err
		}
		return transport.NewRTUTransport(sc), nil
	case "ascii":
		sc, err := serialConfig(pc)
		if err != nil {
			return nil, err
		}
		return transport.NewASCIITransport(sc), nil
	default:
		return nil, fmt.Errorf("unknown transport type %q", pc.Transport)
	}
}

// clientConfigFor maps a port's timeout/retry tuning onto the client
// library's ClientConfig, keeping the library defaults for zero-valued
// fields. The per-device unit id is not part of this: deviceContract sets
// the slave id on every call.
func clientConfigFor(pc PortConfig) *modbus.ClientConfig {
	cfg := modbus.DefaultClientConfig()
	if pc.TimeoutMS > 0 {
		cfg.Timeout = time.Duration(pc.TimeoutMS) * time.Millisecond
	}
	if pc.RetryCount > 0 {
		cfg.RetryCount = pc.RetryCount
	}
	if pc.RetryDelayMS > 0 {
		cfg.RetryDelay = time.Duration(pc.RetryDelayMS) * time.Millisecond
	}
	if pc.ConnectTimeoutMS > 0 {
		cfg.ConnectTimeout = time.Duration(pc.ConnectTimeoutMS) * time.Millisecond
	}
	return cfg
}

func serialConfig(pc PortConfig) (*transport.SerialConfig, error) {
	if pc.Serial == nil {
		return nil, fmt.Errorf("%s transport requires serial config", pc.Transport)
	}
	sc, err := transport.NewSerialConfig(pc.Serial.Port, pc.Serial.BaudRate, pc.Serial.DataBits, pc.Serial.StopBits, pc.Serial.Parity)
	if err != nil {
		return nil, fmt.Errorf("invalid serial config: %w", err)
	}
	return sc, nil
}

// buildItems packs dc's DataViews into Items/RunItems, recording each under
// "devName/itemName" in reg.Items as it goes.
func buildItems(dc DeviceConfig, devHandle runtime.DeviceHandle, alloc *handleAllocator, devName string, reg *Registry) ([]*runtime.RunItem, error) {
	var runItems []*runtime.RunItem

	for _, dv := range dc.DataViews {
		for _, ic := range dv.Items {
			mem, err := parseMemoryType(ic.Memory)
			if err != nil {
				return nil, fmt.Errorf("item %q: %w", ic.Name, err)
			}
			format, err := parseFormat(ic.Format)
			if err != nil {
				return nil, fmt.Errorf("item %q: %w", ic.Name, err)
			}
			byteOrder, err := parseItemByteOrder(ic.ByteOrder)
			if err != nil {
				return nil, fmt.Errorf("item %q: %w", ic.Name, err)
			}
			regOrder, err := parseItemRegisterOrder(ic.RegisterOrder)
			if err != nil {
				return nil, fmt.Errorf("item %q: %w", ic.Name, err)
			}

			period := ic.PeriodMS
			if period <= 0 {
				period = dv.PeriodMS
			}

			// Offsets are displayed 1-based (spec.md §3); stored 0-based.
			if ic.Offset < 1 {
				return nil, fmt.Errorf("item %q: offset is 1-based, got %d", ic.Name, ic.Offset)
			}
			offset := ic.Offset - 1

			length := format.RegisterCount(ic.VariableLength)
			if mem.IsBitAddressed() {
				length = 1
			}
			if _, err := runtime.NewAddress(mem, offset, length); err != nil {
				return nil, fmt.Errorf("item %q: %w", ic.Name, err)
			}

			digital, err := parseByteArrayDigital(ic.ByteArrayDigital)
			if err != nil {
				return nil, fmt.Errorf("item %q: %w", ic.Name, err)
			}
			lengthType, err := parseStringLengthType(ic.StringLengthType)
			if err != nil {
				return nil, fmt.Errorf("item %q: %w", ic.Name, err)
			}
			encoding, err := parseStringEncoding(ic.StringEncoding)
			if err != nil {
				return nil, fmt.Errorf("item %q: %w", ic.Name, err)
			}

			itemHandle := alloc.itemHandle()
			it := &runtime.Item{
				Handle:             itemHandle,
				Device:             devHandle,
				Name:               ic.Name,
				Address:            runtime.Address{Memory: mem, Offset: offset},
				Format:             format,
				ByteOrder:          byteOrder,
				RegisterOrder:      regOrder,
				ByteArraySeparator: ic.ByteArraySeparator,
				ByteArrayDigital:   digital,
				StringLengthType:   lengthType,
				StringEncoding:     encoding,
				VariableLength:     ic.VariableLength,
				PeriodMS:           period,
			}
			reg.Items[devName+"/"+ic.Name] = itemHandle
			runItems = append(runItems, runtime.NewRunItem(it))
		}
	}

	return runItems, nil
}

func parseMemoryType(s string) (modbus.MemoryType, error) {
	switch s {
	case "0x":
		return modbus.Memory0x, nil
	case "1x":
		return modbus.Memory1x, nil
	case "3x":
		return modbus.Memory3x, nil
	case "4x":
		return modbus.Memory4x, nil
	default:
		return modbus.MemoryNone, fmt.Errorf("unsupported memory type %q", s)
	}
}

func parseFormat(s string) (runtime.Format, error) {
	switch s {
	case "bin16":
		return runtime.FormatBin16, nil
	case "dec16":
		return runtime.FormatDec16, nil
	case "hex16":
		return runtime.FormatHex16, nil
	case "int16":
		return runtime.FormatInt16, nil
	case "uint16":
		return runtime.FormatUInt16, nil
	case "int32":
		return runtime.FormatInt32, nil
	case "uint32":
		return runtime.FormatUInt32, nil
	case "float32":
		return runtime.FormatFloat32, nil
	case "int64":
		return runtime.FormatInt64, nil
	case "uint64":
		return runtime.FormatUInt64, nil
	case "float64":
		return runtime.FormatFloat64, nil
	case "byte_array":
		return runtime.FormatByteArray, nil
	case "string":
		return runtime.FormatString, nil
	default:
		return 0, fmt.Errorf("unsupported format %q", s)
	}
}

// parseByteOrder/parseRegisterOrder are for device-level defaults, which may
// never be "Default" — a device must resolve to a concrete order.
func parseByteOrder(s string) (runtime.ByteOrder, error) {
	switch s {
	case "big", "":
		return runtime.BigEndian, nil
	case "little":
		return runtime.LittleEndian, nil
	default:
		return 0, fmt.Errorf("unsupported byte_order %q", s)
	}
}

func parseRegisterOrder(s string) (runtime.RegisterOrder, error) {
	switch s {
	case "high_first", "":
		return runtime.HighWordFirst, nil
	case "low_first":
		return runtime.LowWordFirst, nil
	default:
		return 0, fmt.Errorf("unsupported register_order %q", s)
	}
}

// parseItemByteOrder/parseItemRegisterOrder are for item-level overrides,
// which may be "" to defer to the owning device's default (spec.md §9
// cascade rule).
func parseItemByteOrder(s string) (runtime.ByteOrder, error) {
	switch s {
	case "":
		return runtime.OrderDefault, nil
	case "big":
		return runtime.BigEndian, nil
	case "little":
		return runtime.LittleEndian, nil
	default:
		return 0, fmt.Errorf("unsupported byte_order %q", s)
	}
}

func parseItemRegisterOrder(s string) (runtime.RegisterOrder, error) {
	switch s {
	case "":
		return runtime.RegisterOrderDefault, nil
	case "high_first":
		return runtime.HighWordFirst, nil
	case "low_first":
		return runtime.LowWordFirst, nil
	default:
		return 0, fmt.Errorf("unsupported register_order %q", s)
	}
}

func parseByteArrayDigital(s string) (runtime.ByteArrayDigitalFormat, error) {
	switch s {
	case "hex", "":
		return runtime.ByteArrayHex, nil
	case "dec":
		return runtime.ByteArrayDec, nil
	default:
		return 0, fmt.Errorf("unsupported byte_array_digital %q", s)
	}
}

func parseStringLengthType(s string) (runtime.StringLengthType, error) {
	switch s {
	case "fixed", "":
		return runtime.StringLengthFixed, nil
	case "prefix_byte":
		return runtime.StringLengthPrefixByte, nil
	case "prefix_word":
		return runtime.StringLengthPrefixWord, nil
	default:
		return 0, fmt.Errorf("unsupported string_length_type %q", s)
	}
}

func parseStringEncoding(s string) (runtime.StringEncoding, error) {
	switch s {
	case "ascii", "":
		return runtime.StringASCII, nil
	case "utf8":
		return runtime.StringUTF8, nil
	case "utf16":
		return runtime.StringUTF16, nil
	case "latin1":
		return runtime.StringLatin1, nil
	default:
		return 0, fmt.Errorf("unsupported string_encoding %q", s)
	}
}
