package pdu

import (
	"fmt"

	"github.com/modbuscore/mbclient/modbus"
)

// ParseReadCoilsResponse parses a response PDU for read coils
func ParseReadCoilsResponse(resp *Response, expectedQuantity modbus.Quantity) ([]bool, error) {
	if resp.IsException() {
		ec, _ := resp.GetExceptionCode()
		return nil, modbus.NewModbusError(resp.FunctionCode.FromException(), ec, "")
	}

	if len(resp.Data) < 1 {
		return nil, fmt.Errorf("invalid read coils response: no byte count")
	}

	byteCount := int(resp.Data[0])
	if len(resp.Data) != 1+byteCount {
		return nil, fmt.Errorf("invalid read coils response: expected %d data bytes, got %d",
			byteCount, len(resp.Data)-1)
	}

	return DecodeBoolSlice(resp.Data[1:], int(expectedQuantity)), nil
}

// ParseReadDiscreteInputsResponse parses a response PDU for read discrete inputs
func ParseReadDiscreteInputsResponse(resp *Response, expectedQuantity modbus.Quantity) ([]bool, error) {
	if resp.IsException() {
		ec, _ := resp.GetExceptionCode()
		return nil, modbus.NewModbusError(resp.FunctionCode.FromException(), ec, "")
	}

	if len(resp.Data) < 1 {
		return nil, fmt.Errorf("invalid read discrete inputs response: no byte count")
	}

	byteCount := int(resp.Data[0])
	if len(resp.Data) != 1+byteCount {
		return nil, fmt.Errorf("invalid read discrete inputs response: expected %d data bytes, got %d",
			byteCount, len(resp.Data)-1)
	}

	return DecodeBoolSlice(resp.Data[1:], int(expectedQuantity)), nil
}

// ParseReadHoldingRegistersResponse parses a response PDU for read holding registers
func ParseReadHoldingRegistersResponse(resp *Response, expectedQuantity modbus.Quantity) ([]uint16, error) {
	if resp.IsException() {
		ec, _ := resp.GetExceptionCode()
		return nil, modbus.NewModbusError(resp.FunctionCode.FromException(), ec, "")
	}

	if len(resp.Data) < 1 {
		return nil, fmt.Errorf("invalid read holding registers response: no byte count")
	}

	byteCount := int(resp.Data[0])
	if len(resp.Data) != 1+byteCount {
		return nil, fmt.Errorf("invalid read holding registers response: expected %d data bytes, got %d",
			byteCount, len(resp.Data)-1)
	}

	if byteCount != int(expectedQuantity)*2 {
		return nil, fmt.Errorf("invalid read holding registers response: expected %d bytes for %d registers, got %d",
			expectedQuantity*2, expectedQuantity, byteCount)
	}

	return DecodeUint16Slice(resp.Data[1:])
}

// ParseReadInputRegistersResponse parses a response PDU for read input registers
func ParseReadInputRegistersResponse(resp *Response, expectedQuantity modbus.Quantity) ([]uint16, error) {
	if resp.IsException() {
		ec, _ := resp.GetExceptionCode()
		return nil, modbus.NewModbusError(resp.FunctionCode.FromException(), ec, "")
	}

	if len(resp.Data) < 1 {
		return nil, fmt.Errorf("invalid read input registers response: no byte count")
	}

	byteCount := int(resp.Data[0])
	if len(resp.Data) != 1+byteCount {
		return nil, fmt.Errorf("invalid read input registers response: expected %d data bytes, got %d",
			byteCount, len(resp.Data)-1)
	}

	if byteCount != int(expectedQuantity)*2 {
		return nil, fmt.Errorf("invalid read input registers response: expected %d bytes for %d registers, got %d",
			expectedQuantity*2, expectedQuantity, byteCount)
	}

	return DecodeUint16Slice(resp.Data[1:])
}

// ParseWriteSingleCoilResponse parses a response PDU for write single coil
func ParseWriteSingleCoilResponse(resp *Response, expectedAddress modbus.Address, expectedValue bool) error {
	if resp.IsException() {
		ec, _ := resp.GetExceptionCode()
		return modbus.NewModbusError(resp.FunctionCode.FromException(), ec, "")
	}

	if len(resp.Data) != 4 {
		return fmt.Errorf("invalid write single coil response: expected 4 bytes, got %d", len(resp.Data))
	}

	address, err := DecodeUint16(resp.Data[0:2])
	if err != nil {
		return fmt.Errorf("invalid write single coil response: %w", err)
	}

	value, err := DecodeUint16(resp.Data[2:4])
	if err != nil {
		return fmt.Errorf("invalid write single coil response: %w", err)
	}

	if address != uint16(expectedAddress) {
		return fmt.Errorf("write single coil response address mismatch: expected %d, got %d",
			expectedAddress, address)
	}

	expectedCoilValue := uint16(modbus.CoilOff)
	if expectedValue {
		expectedCoilValue = modbus.CoilOn
	}

	if value != expectedCoilValue {
		return fmt.Errorf("write single coil response value mismatch: expected %04X, got %04X",
			expectedCoilValue, value)
	}

	return nil
}

// ParseWriteSingleRegisterResponse parses a response PDU for write single register
func ParseWriteSingleRegisterResponse(resp *Response, expectedAddress modbus.Address, expectedValue uint16) error {
	if resp.IsException() {
		ec, _ := resp.GetExceptionCode()
		return modbus.NewModbusError(resp.FunctionCode.FromException(), ec, "")
	}

	if len(resp.Data) != 4 {
		return fmt.Errorf("invalid write single register response: expected 4 bytes, got %d", len(resp.Data))
	}

	address, err := DecodeUint16(resp.Data[0:2])
	if err != nil {
		return fmt.Errorf("invalid write single register response: %w", err)
	}

	value, err := DecodeUint16(resp.Data[2:4])
	if err != nil {
		return fmt.Errorf("invalid write single register response: %w", err)
	}

	if address != uint16(expectedAddress) {
		return fmt.Errorf("write single register response address mismatch: expected %d, got %d",
			expectedAddress, address)
	}

	if value != expectedValue {
		return fmt.Errorf("write single register response value mismatch: expected %d, got %d",
			expectedValue, value)
	}

	return nil
}

// ParseWriteMultipleCoilsResponse parses a response PDU for write multiple coils
func ParseWriteMultipleCoilsResponse(resp *Response, expectedAddress modbus.Address, expectedQuantity modbus.Quantity) error {
	if resp.IsException() {
		ec, _ := resp.GetExceptionCode()
		return modbus.NewModbusError(resp.FunctionCode.FromException(), ec, "")
	}

	if len(resp.Data) != 4 {
		return fmt.Errorf("invalid write multiple coils response: expected 4 bytes, got %d", len(resp.Data))
	}

	address, err := DecodeUint16(resp.Data[0:2])
	if err != nil {
		return fmt.Errorf("invalid write multiple coils response: %w", err)
	}

	quantity, err := DecodeUint16(resp.Data[2:4])
	if err != nil {
		return fmt.Errorf("invalid write multiple coils response: %w", err)
	}

	if address != uint16(expectedAddress) {
		return fmt.Errorf("write multiple coils response address mismatch: expected %d, got %d",
			expectedAddress, address)
	}

	if quantity != uint16(expectedQuantity) {
		return fmt.Errorf("write multiple coils response quantity mismatch: expected %d, got %d",
			expectedQuantity, quantity)
	}

	return nil
}

// ParseWriteMultipleRegistersResponse parses a response PDU for write multiple registers
func ParseWriteMultipleRegistersResponse(resp *Response, expectedAddress modbus.Address, expectedQuantity modbus.Quantity) error {
	if resp.IsException() {
		ec, _ := resp.GetExceptionCode()
		return modbus.NewModbusError(resp.FunctionCode.FromException(), ec, "")
	}

	if len(resp.Data) != 4 {
		return fmt.Errorf("invalid write multiple registers response: expected 4 bytes, got %d", len(resp.Data))
	}

	address, err := DecodeUint16(resp.Data[0:2])
	if err != nil {
		return fmt.Errorf("invalid write multiple registers response: %w", err)
	}

	quantity, err := DecodeUint16(resp.Data[2:4])
	if err != nil {
		return fmt.Errorf("invalid write multiple registers response: %w", err)
	}

	if address != uint16(expectedAddress) {
		return fmt.Errorf("write multiple registers response address mismatch: expected %d, got %d",
			expectedAddress, address)
	}

	if quantity != uint16(expectedQuantity) {
		return fmt.Errorf("write multiple registers response quantity mismatch: expected %d, got %d",
			expectedQuantity, quantity)
	}

	return nil
}

// ParseReadExceptionStatusResponse parses a response PDU for read exception status
func ParseReadExceptionStatusResponse(resp *Response) (uint8, error) {
	if resp.IsException() {
		ec, _ := resp.GetExceptionCode()
		return 0, modbus.NewModbusError(resp.FunctionCode.FromException(), ec, "")
	}

	if len(resp.Data) != 1 {
		return 0, fmt.Errorf("invalid read exception status response: expected 1 byte, got %d", len(resp.Data))
	}

	return resp.Data[0], nil
}
