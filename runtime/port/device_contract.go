package port

import (
	"github.com/modbuscore/mbclient/modbus"
	"github.com/modbuscore/mbclient/runtime"
)

// deviceContract binds a device's unit ID to the physical port's AsyncPort,
// implementing Contract. It mirrors the original's one-Client-per-device
// model (each device wraps the shared port with its own slave/unit ID) while
// running every call through the non-blocking poll adapter.
type deviceContract struct {
	async   *AsyncPort
	unit    modbus.SlaveID
	lastErr error
}

func newDeviceContract(async *AsyncPort, unit modbus.SlaveID) *deviceContract {
	return &deviceContract{async: async, unit: unit}
}

// NewDeviceContract adapts async, a port shared by every device on one
// physical transport, into the Contract a single device (identified by
// unit) needs. Exported for callers (the project loader) that build
// DeviceRunnables outside this package.
func NewDeviceContract(async *AsyncPort, unit modbus.SlaveID) Contract {
	return newDeviceContract(async, unit)
}

// callKey distinguishes this device's outstanding call from any other
// device sharing the same AsyncPort.
func (d *deviceContract) callKey() any { return d }

func (d *deviceContract) ReadCoils(offset, count uint16, out []bool) runtime.StatusCode {
	status, value, err := d.async.poll(d.callKey(), func() (any, error) {
		d.async.client.SetSlaveID(d.unit)
		return d.async.client.ReadCoils(modbus.Address(offset), modbus.Quantity(count))
	})
	d.record(status, err)
	if status.IsGood() {
		copy(out, value.([]bool))
	}
	return status
}

func (d *deviceContract) ReadDiscreteInputs(offset, count uint16, out []bool) runtime.StatusCode {
	status, value, err := d.async.poll(d.callKey(), func() (any, error) {
		d.async.client.SetSlaveID(d.unit)
		return d.async.client.ReadDiscreteInputs(modbus.Address(offset), modbus.Quantity(count))
	})
	d.record(status, err)
	if status.IsGood() {
		copy(out, value.([]bool))
	}
	return status
}

func (d *deviceContract) ReadInputRegisters(offset, count uint16, out []uint16) runtime.StatusCode {
	status, value, err := d.async.poll(d.callKey(), func() (any, error) {
		d.async.client.SetSlaveID(d.unit)
		return d.async.client.ReadInputRegisters(modbus.Address(offset), modbus.Quantity(count))
	})
	d.record(status, err)
	if status.IsGood() {
		copy(out, value.([]uint16))
	}
	return status
}

func (d *deviceContract) ReadHoldingRegisters(offset, count uint16, out []uint16) runtime.StatusCode {
	status, value, err := d.async.poll(d.callKey(), func() (any, error) {
		d.async.client.SetSlaveID(d.unit)
		return d.async.client.ReadHoldingRegisters(modbus.Address(offset), modbus.Quantity(count))
	})
	d.record(status, err)
	if status.IsGood() {
		copy(out, value.([]uint16))
	}
	return status
}

func (d *deviceContract) ReadExceptionStatus(out *uint8) runtime.StatusCode {
	status, value, err := d.async.poll(d.callKey(), func() (any, error) {
		d.async.client.SetSlaveID(d.unit)
		return d.async.client.ReadExceptionStatus()
	})
	d.record(status, err)
	if status.IsGood() {
		*out = value.(uint8)
	}
	return status
}

func (d *deviceContract) WriteSingleCoil(offset uint16, bit bool) runtime.StatusCode {
	status, _, err := d.async.poll(d.callKey(), func() (any, error) {
		d.async.client.SetSlaveID(d.unit)
		return nil, d.async.client.WriteSingleCoil(modbus.Address(offset), bit)
	})
	d.record(status, err)
	return status
}

func (d *deviceContract) WriteSingleRegister(offset uint16, word uint16) runtime.StatusCode {
	status, _, err := d.async.poll(d.callKey(), func() (any, error) {
		d.async.client.SetSlaveID(d.unit)
		return nil, d.async.client.WriteSingleRegister(modbus.Address(offset), word)
	})
	d.record(status, err)
	return status
}

func (d *deviceContract) WriteMultipleCoils(offset, count uint16, in []bool) runtime.StatusCode {
	status, _, err := d.async.poll(d.callKey(), func() (any, error) {
		d.async.client.SetSlaveID(d.unit)
		return nil, d.async.client.WriteMultipleCoils(modbus.Address(offset), in)
	})
	d.record(status, err)
	return status
}

func (d *deviceContract) WriteMultipleRegisters(offset, count uint16, in []uint16) runtime.StatusCode {
	status, _, err := d.async.poll(d.callKey(), func() (any, error) {
		d.async.client.SetSlaveID(d.unit)
		return nil, d.async.client.WriteMultipleRegisters(modbus.Address(offset), in)
	})
	d.record(status, err)
	return status
}

func (d *deviceContract) LastErrorText() string {
	if d.lastErr == nil {
		return ""
	}
	return d.lastErr.Error()
}

func (d *deviceContract) record(status runtime.StatusCode, err error) {
	if status.IsBad() {
		d.lastErr = err
	}
}
