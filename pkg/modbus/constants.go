// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

// Package modbus implements the Modbus RTU read-holding-registers exchange
// used by the temperature sensor bus.
//
// The sensor firmware exposes one holding register per device: register
// 0x004A holds the temperature as a signed 16-bit value in tenths of a
// degree Celsius. The per-device Modbus unit address doubles as the logical
// channel number. This package only builds request frames and validates
// response frames; serial I/O lives in pkg/sensor.
package modbus

// Function codes
const (
	FuncReadHoldingRegisters = 0x03
)

// Sensor register map
const (
	TemperatureRegister = 0x004A
)

// Frame geometry for a single-register read
const (
	RequestLength  = 8 // addr, func, start hi/lo, count hi/lo, crc lo/hi
	ResponseLength = 7 // addr, func, byte count, value hi/lo, crc lo/hi

	responseByteCount = 2 // one 16-bit register
)

// Modbus unit address range. Address 0 is the broadcast address and never
// carries a response; addresses above 247 are reserved.
const (
	MinUnitAddress = 1
	MaxUnitAddress = 247
)

// CRC-16/MODBUS configuration
const (
	crcPolynomial = 0xA001
	crcInitial    = 0xFFFF
)
