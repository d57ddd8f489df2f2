package modbus

import (
	"github.com/modbuscore/mbclient/modbus"
)

// Re-export types from modbus package
type (
	SlaveID       = modbus.SlaveID
	Address       = modbus.Address
	Quantity      = modbus.Quantity
	FunctionCode  = modbus.FunctionCode
	ExceptionCode = modbus.ExceptionCode
	ModbusError   = modbus.ModbusError
	TransportType = modbus.TransportType
	ClientConfig  = modbus.ClientConfig
)

// Re-export constants from modbus package
const (
	// Function codes
	FuncCodeReadCoils              = modbus.FuncCodeReadCoils
	FuncCodeReadDiscreteInputs     = modbus.FuncCodeReadDiscreteInputs
	FuncCodeReadHoldingRegisters   = modbus.FuncCodeReadHoldingRegisters
	FuncCodeReadInputRegisters     = modbus.FuncCodeReadInputRegisters
	FuncCodeWriteSingleCoil        = modbus.FuncCodeWriteSingleCoil
	FuncCodeWriteSingleRegister    = modbus.FuncCodeWriteSingleRegister
	FuncCodeReadExceptionStatus    = modbus.FuncCodeReadExceptionStatus
	FuncCodeWriteMultipleCoils     = modbus.FuncCodeWriteMultipleCoils
	FuncCodeWriteMultipleRegisters = modbus.FuncCodeWriteMultipleRegisters

	// Exception codes
	ExceptionCodeIllegalFunction     = modbus.ExceptionCodeIllegalFunction
	ExceptionCodeIllegalDataAddress  = modbus.ExceptionCodeIllegalDataAddress
	ExceptionCodeIllegalDataValue    = modbus.ExceptionCodeIllegalDataValue
	ExceptionCodeServerDeviceFailure = modbus.ExceptionCodeServerDeviceFailure
	ExceptionCodeAcknowledge         = modbus.ExceptionCodeAcknowledge
	ExceptionCodeServerDeviceBusy    = modbus.ExceptionCodeServerDeviceBusy
	ExceptionCodeMemoryParityError   = modbus.ExceptionCodeMemoryParityError
	ExceptionCodeGatewayPathUnavail  = modbus.ExceptionCodeGatewayPathUnavail
	ExceptionCodeGatewayTargetFail   = modbus.ExceptionCodeGatewayTargetFail

	// Coil values
	CoilOff = modbus.CoilOff
	CoilOn  = modbus.CoilOn

	// Transport types
	TransportTCP   = modbus.TransportTCP
	TransportRTU   = modbus.TransportRTU
	TransportASCII = modbus.TransportASCII

	// Timeouts
	DefaultResponseTimeout = modbus.DefaultResponseTimeout
)

// Re-export functions from modbus package
var (
	NewModbusError      = modbus.NewModbusError
	DefaultClientConfig = modbus.DefaultClientConfig
)
