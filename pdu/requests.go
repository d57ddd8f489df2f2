package pdu

import (
	"github.com/modbuscore/mbclient/modbus"
)

// ReadCoilsRequest creates a PDU for reading coils
func ReadCoilsRequest(address modbus.Address, quantity modbus.Quantity) (*Request, error) {
	if err := ValidateQuantity(modbus.FuncCodeReadCoils, quantity); err != nil {
		return nil, err
	}
	if err := ValidateAddress(address, quantity); err != nil {
		return nil, err
	}

	data := make([]byte, 4)
	copy(data[0:2], EncodeUint16(uint16(address)))
	copy(data[2:4], EncodeUint16(uint16(quantity)))

	return NewRequest(modbus.FuncCodeReadCoils, data), nil
}

// ReadDiscreteInputsRequest creates a PDU for reading discrete inputs
func ReadDiscreteInputsRequest(address modbus.Address, quantity modbus.Quantity) (*Request, error) {
	if err := ValidateQuantity(modbus.FuncCodeReadDiscreteInputs, quantity); err != nil {
		return nil, err
	}
	if err := ValidateAddress(address, quantity); err != nil {
		return nil, err
	}

	data := make([]byte, 4)
	copy(data[0:2], EncodeUint16(uint16(address)))
	copy(data[2:4], EncodeUint16(uint16(quantity)))

	return NewRequest(modbus.FuncCodeReadDiscreteInputs, data), nil
}

// ReadHoldingRegistersRequest creates a PDU for reading holding registers
func ReadHoldingRegistersRequest(address modbus.Address, quantity modbus.Quantity) (*Request, error) {
	if err := ValidateQuantity(modbus.FuncCodeReadHoldingRegisters, quantity); err != nil {
		return nil, err
	}
	if err := ValidateAddress(address, quantity); err != nil {
		return nil, err
	}

	data := make([]byte, 4)
	copy(data[0:2], EncodeUint16(uint16(address)))
	copy(data[2:4], EncodeUint16(uint16(quantity)))

	return NewRequest(modbus.FuncCodeReadHoldingRegisters, data), nil
}

// ReadInputRegistersRequest creates a PDU for reading input registers
func ReadInputRegistersRequest(address modbus.Address, quantity modbus.Quantity) (*Request, error) {
	if err := ValidateQuantity(modbus.FuncCodeReadInputRegisters, quantity); err != nil {
		return nil, err
	}
	if err := ValidateAddress(address, quantity); err != nil {
		return nil, err
	}

	data := make([]byte, 4)
	copy(data[0:2], EncodeUint16(uint16(address)))
	copy(data[2:4], EncodeUint16(uint16(quantity)))

	return NewRequest(modbus.FuncCodeReadInputRegisters, data), nil
}

// WriteSingleCoilRequest creates a PDU for writing a single coil
func WriteSingleCoilRequest(address modbus.Address, value bool) (*Request, error) {
	coilValue := uint16(modbus.CoilOff)
	if value {
		coilValue = modbus.CoilOn
	}

	data := make([]byte, 4)
	copy(data[0:2], EncodeUint16(uint16(address)))
	copy(data[2:4], EncodeUint16(coilValue))

	return NewRequest(modbus.FuncCodeWriteSingleCoil, data), nil
}

// WriteSingleRegisterRequest creates a PDU for writing a single register
func WriteSingleRegisterRequest(address modbus.Address, value uint16) (*Request, error) {
	data := make([]byte, 4)
	copy(data[0:2], EncodeUint16(uint16(address)))
	copy(data[2:4], EncodeUint16(value))

	return NewRequest(modbus.FuncCodeWriteSingleRegister, data), nil
}

// WriteMultipleCoilsRequest creates a PDU for writing multiple coils
func WriteMultipleCoilsRequest(address modbus.Address, values []bool) (*Request, error) {
	quantity := modbus.Quantity(len(values))
	if err := ValidateQuantity(modbus.FuncCodeWriteMultipleCoils, quantity); err != nil {
		return nil, err
	}
	if err := ValidateAddress(address, quantity); err != nil {
		return nil, err
	}

	coilBytes := EncodeBoolSlice(values)
	byteCount := len(coilBytes)

	data := make([]byte, 5+byteCount)
	copy(data[0:2], EncodeUint16(uint16(address)))
	copy(data[2:4], EncodeUint16(uint16(quantity)))
	data[4] = byte(byteCount)
	copy(data[5:], coilBytes)

	return NewRequest(modbus.FuncCodeWriteMultipleCoils, data), nil
}

// WriteMultipleRegistersRequest creates a PDU for writing multiple registers
func WriteMultipleRegistersRequest(address modbus.Address, values []uint16) (*Request, error) {
	quantity := modbus.Quantity(len(values))
	if err := ValidateQuantity(modbus.FuncCodeWriteMultipleRegisters, quantity); err != nil {
		return nil, err
	}
	if err := ValidateAddress(address, quantity); err != nil {
		return nil, err
	}

	registerBytes := EncodeUint16Slice(values)
	byteCount := len(registerBytes)

	data := make([]byte, 5+byteCount)
	copy(data[0:2], EncodeUint16(uint16(address)))
	copy(data[2:4], EncodeUint16(uint16(quantity)))
	data[4] = byte(byteCount)
	copy(data[5:], registerBytes)

	return NewRequest(modbus.FuncCodeWriteMultipleRegisters, data), nil
}

// ReadExceptionStatusRequest creates a PDU for reading exception status (Serial line only)
func ReadExceptionStatusRequest() (*Request, error) {
	return NewRequest(modbus.FuncCodeReadExceptionStatus, []byte{}), nil
}
