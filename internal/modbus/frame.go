package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame is a Modbus/TCP ADU: MBAP header (7 bytes), function code and data.
type Frame struct {
	TransactionID uint16
	ProtocolID    uint16 // always 0 for Modbus
	Length        uint16 // bytes following the length field
	UnitID        uint8
	FunctionCode  uint8
	Data          []byte
}

const (
	FuncCodeReadCoils          = 0x01
	FuncCodeReadDiscreteInputs = 0x02
	FuncCodeWriteSingleCoil    = 0x05
	FuncCodeWriteMultipleCoils = 0x0F

	exceptionFlag = 0x80
	mbapLen       = 7
	maxADULen     = 260
	maxReadBits   = 2000
)

var (
	ErrFrameTooShort   = errors.New("frame too short")
	ErrInvalidProtocol = errors.New("invalid protocol id")
)

// ExceptionError is a Modbus exception response.
type ExceptionError struct {
	FunctionCode uint8
	Code         uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception 0x%02X for function 0x%02X", e.Code, e.FunctionCode)
}

// Encode builds the complete TCP frame and fills in Length.
func (f *Frame) Encode() []byte {
	f.Length = uint16(len(f.Data) + 2) // unit id + function code

	frame := make([]byte, mbapLen+1+len(f.Data))
	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID
	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < mbapLen+1 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}

	frame := &Frame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0 {
		return nil, fmt.Errorf("%w: 0x%04X", ErrInvalidProtocol, frame.ProtocolID)
	}
	if len(data) > mbapLen+1 {
		frame.Data = data[mbapLen+1:]
	}

	return frame, nil
}

// Exception returns the exception carried by a response, if any.
func (f *Frame) Exception() error {
	if f.FunctionCode&exceptionFlag == 0 {
		return nil
	}
	code := uint8(0)
	if len(f.Data) > 0 {
		code = f.Data[0]
	}
	return &ExceptionError{FunctionCode: f.FunctionCode &^ exceptionFlag, Code: code}
}

// ReadBitsRequest builds an FC 0x01 or 0x02 request.
func ReadBitsRequest(functionCode, unitID uint8, startAddr, quantity uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)

	return &Frame{
		UnitID:       unitID,
		FunctionCode: functionCode,
		Data:         data,
	}
}

// WriteSingleCoilRequest builds an FC 0x05 request. On is encoded as 0xFF00.
func WriteSingleCoilRequest(unitID uint8, addr uint16, on bool) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	if on {
		binary.BigEndian.PutUint16(data[2:4], 0xFF00)
	}

	return &Frame{
		UnitID:       unitID,
		FunctionCode: FuncCodeWriteSingleCoil,
		Data:         data,
	}
}

// ParseBitsResponse unpacks a read coils / discrete inputs response, LSB
// first within each byte.
func (f *Frame) ParseBitsResponse(quantity uint16) ([]bool, error) {
	if err := f.Exception(); err != nil {
		return nil, err
	}
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("%w: missing byte count", ErrFrameTooShort)
	}

	byteCount := int(f.Data[0])
	if len(f.Data) < byteCount+1 || byteCount*8 < int(quantity) {
		return nil, fmt.Errorf("incomplete response data: %d bytes for %d bits", byteCount, quantity)
	}

	bits := make([]bool, quantity)
	for i := range bits {
		bits[i] = f.Data[1+i/8]&(1<<(i%8)) != 0
	}
	return bits, nil
}

// PackBits is the inverse of ParseBitsResponse, used by servers and tests.
func PackBits(bits []bool) []byte {
	out := make([]byte, 1+(len(bits)+7)/8)
	out[0] = byte(len(out) - 1)
	for i, b := range bits {
		if b {
			out[1+i/8] |= 1 << (i % 8)
		}
	}
	return out
}
