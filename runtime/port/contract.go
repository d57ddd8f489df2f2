// Package port implements the per-port cooperative arbiter and the
// per-device non-blocking state machine that drive it: PortRunnable,
// DeviceRunnable, the Contract a transport must satisfy, and the AsyncPort
// adapter that turns a blocking transport.Transport into a poll-for-Processing
// contract. Callers typically reach this package through Runtime, the
// top-level boundary that owns one PortRunnable per configured port.
package port

import "github.com/modbuscore/mbclient/runtime"

// Contract is what a DeviceRunnable needs from its transport: one method per
// supported Modbus function, each returning a StatusCode rather than an
// error so the tri-state cooperative contract survives across the call
// boundary. Every method must return promptly — StatusProcessing means "not
// done yet, call again with identical arguments," never "block until done."
type Contract interface {
	ReadCoils(offset, count uint16, out []bool) runtime.StatusCode
	ReadDiscreteInputs(offset, count uint16, out []bool) runtime.StatusCode
	ReadInputRegisters(offset, count uint16, out []uint16) runtime.StatusCode
	ReadHoldingRegisters(offset, count uint16, out []uint16) runtime.StatusCode
	ReadExceptionStatus(out *uint8) runtime.StatusCode
	WriteSingleCoil(offset uint16, bit bool) runtime.StatusCode
	WriteSingleRegister(offset uint16, word uint16) runtime.StatusCode
	WriteMultipleCoils(offset, count uint16, in []bool) runtime.StatusCode
	WriteMultipleRegisters(offset, count uint16, in []uint16) runtime.StatusCode
	LastErrorText() string
}
