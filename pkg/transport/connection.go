// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

// Package transport abstracts the byte stream between a device driver and
// the physical bus. Drivers speak to a Connection; whether that is a local
// serial port or a WebSocket bridge to a remote bus is decided by the
// caller-supplied Dialer.
package transport

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Both buses in this system run 9600 baud, 8 data bits, no parity, one stop
// bit.
const (
	DefaultBaudRate = 9600
)

// Connection provides a common interface for exchanging bytes with a device
// over serial or WebSocket.
//
// Read returns (0, nil) when the read timeout expires with no data; drivers
// treat that as a device timeout, not an error. Flush discards any bytes
// pending in either direction.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadTimeout(d time.Duration) error
	Flush() error
}

// Dialer opens a Connection. Drivers hold a Dialer rather than a port name
// so that tests can substitute scripted connections.
type Dialer func() (Connection, error)

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

func (s *SerialConnection) SetReadTimeout(d time.Duration) error {
	return s.port.SetReadTimeout(d)
}

// Flush discards the OS driver's RX and TX buffers
func (s *SerialConnection) Flush() error {
	if err := s.port.ResetInputBuffer(); err != nil {
		return err
	}
	return s.port.ResetOutputBuffer()
}

// OpenSerial opens a serial port at 9600 8N1
func OpenSerial(portName string) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// DialSerial returns a Dialer for a local serial port
func DialSerial(portName string) Dialer {
	return func() (Connection, error) {
		return OpenSerial(portName)
	}
}

// ListPorts returns the names of the serial ports present on this machine
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %v", err)
	}
	return ports, nil
}
