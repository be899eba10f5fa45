// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

package modbus

// CalculateCRC computes the CRC-16/MODBUS checksum for the given data
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ crcPolynomial
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendCRC appends the CRC trailer to a frame, low byte first per the
// Modbus RTU wire order.
func AppendCRC(frame []byte) []byte {
	crc := CalculateCRC(frame)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}
