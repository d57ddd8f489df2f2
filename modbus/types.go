package modbus

import (
	"fmt"
	"time"
)

// SlaveID represents a MODBUS slave/unit identifier
type SlaveID uint8

// Address represents a MODBUS register or coil address
type Address uint16

// Quantity represents a quantity of registers or coils
type Quantity uint16

// MemoryType identifies one of the four MODBUS data-model address spaces.
type MemoryType int

const (
	MemoryNone MemoryType = iota
	Memory0x              // Coils, read-write, bit-addressed
	Memory1x              // Discrete Inputs, read-only, bit-addressed
	Memory3x              // Input Registers, read-only, word-addressed
	Memory4x              // Holding Registers, read-write, word-addressed
)

// String returns a short human-readable name for the memory type.
func (m MemoryType) String() string {
	switch m {
	case Memory0x:
		return "0x"
	case Memory1x:
		return "1x"
	case Memory3x:
		return "3x"
	case Memory4x:
		return "4x"
	default:
		return "none"
	}
}

// IsBitAddressed reports whether offsets in this memory type address single bits
// rather than 16-bit words.
func (m MemoryType) IsBitAddressed() bool {
	return m == Memory0x || m == Memory1x
}

// IsWritable reports whether this memory type can be targeted by a write message.
func (m MemoryType) IsWritable() bool {
	return m == Memory0x || m == Memory4x
}

// FunctionCode represents a MODBUS function code
type FunctionCode uint8

// ExceptionCode represents a MODBUS exception code
type ExceptionCode uint8

// IsException returns true if the function code represents an exception
func (fc FunctionCode) IsException() bool {
	return fc&0x80 != 0
}

// ToException converts a normal function code to its exception equivalent
func (fc FunctionCode) ToException() FunctionCode {
	return fc | 0x80
}

// FromException converts an exception function code to its normal equivalent
func (fc FunctionCode) FromException() FunctionCode {
	return fc &^ 0x80
}

// String returns a string representation of the function code
func (fc FunctionCode) String() string {
	if fc.IsException() {
		return fmt.Sprintf("Exception(%02x)", uint8(fc.FromException()))
	}

	switch fc {
	case FuncCodeReadCoils:
		return "ReadCoils"
	case FuncCodeReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncCodeReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncCodeReadInputRegisters:
		return "ReadInputRegisters"
	case FuncCodeWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncCodeWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncCodeReadExceptionStatus:
		return "ReadExceptionStatus"
	case FuncCodeDiagnostic:
		return "Diagnostic"
	case FuncCodeGetCommEventCounter:
		return "GetCommEventCounter"
	case FuncCodeGetCommEventLog:
		return "GetCommEventLog"
	case FuncCodeWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncCodeWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	case FuncCodeReportServerID:
		return "ReportServerID"
	case FuncCodeReadFileRecord:
		return "ReadFileRecord"
	case FuncCodeWriteFileRecord:
		return "WriteFileRecord"
	case FuncCodeMaskWriteRegister:
		return "MaskWriteRegister"
	case FuncCodeReadWriteMultipleRegs:
		return "ReadWriteMultipleRegisters"
	case FuncCodeReadFIFOQueue:
		return "ReadFIFOQueue"
	case FuncCodeEncapsulatedInterface:
		return "EncapsulatedInterface"
	default:
		return fmt.Sprintf("Unknown(%02x)", uint8(fc))
	}
}

// String returns a string representation of the exception code
func (ec ExceptionCode) String() string {
	switch ec {
	case ExceptionCodeIllegalFunction:
		return "IllegalFunction"
	case ExceptionCodeIllegalDataAddress:
		return "IllegalDataAddress"
	case ExceptionCodeIllegalDataValue:
		return "IllegalDataValue"
	case ExceptionCodeServerDeviceFailure:
		return "ServerDeviceFailure"
	case ExceptionCodeAcknowledge:
		return "Acknowledge"
	case ExceptionCodeServerDeviceBusy:
		return "ServerDeviceBusy"
	case ExceptionCodeMemoryParityError:
		return "MemoryParityError"
	case ExceptionCodeGatewayPathUnavail:
		return "GatewayPathUnavailable"
	case ExceptionCodeGatewayTargetFail:
		return "GatewayTargetDeviceFailedToRespond"
	default:
		return fmt.Sprintf("Unknown(%02x)", uint8(ec))
	}
}

// Error implements the error interface for ExceptionCode
func (ec ExceptionCode) Error() string {
	return fmt.Sprintf("MODBUS Exception %02x: %s", uint8(ec), ec.String())
}

// ModbusError represents a MODBUS-specific error
type ModbusError struct {
	FunctionCode  FunctionCode
	ExceptionCode ExceptionCode
	Message       string
}

// Error implements the error interface
func (e *ModbusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("MODBUS Error [%s]: %s - %s",
			e.FunctionCode.String(), e.ExceptionCode.String(), e.Message)
	}
	return fmt.Sprintf("MODBUS Error [%s]: %s",
		e.FunctionCode.String(), e.ExceptionCode.String())
}

// NewModbusError creates a new ModbusError
func NewModbusError(fc FunctionCode, ec ExceptionCode, message string) *ModbusError {
	return &ModbusError{
		FunctionCode:  fc,
		ExceptionCode: ec,
		Message:       message,
	}
}

// TransportType represents the type of MODBUS transport
type TransportType int

const (
	TransportTCP TransportType = iota
	TransportRTU
	TransportASCII
)

// String returns a string representation of the transport type
func (tt TransportType) String() string {
	switch tt {
	case TransportTCP:
		return "TCP"
	case TransportRTU:
		return "RTU"
	case TransportASCII:
		return "ASCII"
	default:
		return "Unknown"
	}
}

// ClientConfig holds configuration for a MODBUS client
type ClientConfig struct {
	SlaveID        SlaveID
	Timeout        time.Duration
	RetryCount     int
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
	TransportType  TransportType
}

// DefaultClientConfig returns a default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		SlaveID:        1,
		Timeout:        time.Duration(DefaultResponseTimeout) * time.Millisecond,
		RetryCount:     3,
		RetryDelay:     100 * time.Millisecond,
		ConnectTimeout: time.Duration(DefaultConnectTimeout) * time.Millisecond,
		TransportType:  TransportTCP,
	}
}
