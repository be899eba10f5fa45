// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

package modbus

// BuildReadRequest builds an 8-byte read-holding-registers request frame:
// [address, 0x03, start hi, start lo, count hi, count lo, crc lo, crc hi]
func BuildReadRequest(address uint8, startRegister, count uint16) []byte {
	frame := make([]byte, 0, RequestLength)
	frame = append(frame,
		address,
		FuncReadHoldingRegisters,
		byte(startRegister>>8),
		byte(startRegister&0xFF),
		byte(count>>8),
		byte(count&0xFF),
	)
	return AppendCRC(frame)
}

// BuildTemperatureRequest builds the single-register temperature read for
// the given channel (unit address).
func BuildTemperatureRequest(channel uint8) []byte {
	return BuildReadRequest(channel, TemperatureRegister, 1)
}

// ParseReadResponse validates a single-register read response and returns
// the big-endian signed register value.
//
// The frame must be exactly 7 bytes: [address, 0x03, byte count=2, value hi,
// value lo, crc lo, crc hi]. Any mismatch yields a *FrameError; the value is
// never guessed from a damaged frame.
func ParseReadResponse(frame []byte, address uint8) (int16, error) {
	if len(frame) != ResponseLength {
		return 0, frameErrorf(ShortRead,
			"response is %d bytes, want %d", len(frame), ResponseLength)
	}
	if frame[0] != address {
		return 0, frameErrorf(AddressMismatch,
			"response from unit 0x%02X, want 0x%02X", frame[0], address)
	}
	if frame[1] != FuncReadHoldingRegisters {
		return 0, frameErrorf(FunctionMismatch,
			"function 0x%02X, want 0x%02X", frame[1], FuncReadHoldingRegisters)
	}
	if frame[2] != responseByteCount {
		return 0, frameErrorf(LengthMismatch,
			"byte count %d, want %d", frame[2], responseByteCount)
	}

	received := uint16(frame[6])<<8 | uint16(frame[5]) // trailer is low byte first
	calculated := CalculateCRC(frame[:5])
	if received != calculated {
		return 0, frameErrorf(CRCMismatch,
			"CRC 0x%04X, want 0x%04X", received, calculated)
	}

	return int16(uint16(frame[3])<<8 | uint16(frame[4])), nil
}

// Temperature converts a raw register value to degrees Celsius. The sensor
// firmware encodes temperature in tenths of a degree.
func Temperature(raw int16) float64 {
	return float64(raw) / 10.0
}
