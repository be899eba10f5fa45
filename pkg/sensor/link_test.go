// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

package sensor

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangzhuhan/PIDCON/pkg/modbus"
	"github.com/Tangzhuhan/PIDCON/pkg/transport"
)

// fakeConn scripts the device side of the bus: every write is recorded and
// answered via the respond callback. A Read with nothing buffered returns
// (0, nil), matching the serial timeout contract.
type fakeConn struct {
	mu        sync.Mutex
	writes    [][]byte
	rx        bytes.Buffer
	respond   func(request []byte) []byte
	writeErr  error
	closed    bool
	flushable bool
}

var _ transport.Connection = (*fakeConn)(nil)

func (f *fakeConn) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errors.New("read on closed port")
	}
	if f.rx.Len() == 0 {
		return 0, nil // timeout
	}
	return f.rx.Read(p)
}

func (f *fakeConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	if f.respond != nil {
		if reply := f.respond(p); reply != nil {
			f.rx.Write(reply)
		}
	}
	return len(p), nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) SetReadTimeout(time.Duration) error { return nil }

func (f *fakeConn) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushable = true
	f.rx.Reset()
	return nil
}

func validResponse(channel uint8, raw int16) []byte {
	body := []byte{channel, modbus.FuncReadHoldingRegisters, 0x02,
		byte(uint16(raw) >> 8), byte(uint16(raw) & 0xFF)}
	return modbus.AppendCRC(body)
}

// echoTemperature answers any read request with a valid frame for the
// requested unit, reporting the given raw value.
func echoTemperature(raw int16) func([]byte) []byte {
	return func(request []byte) []byte {
		return validResponse(request[0], raw)
	}
}

func testConfig(conn *fakeConn, dials *int) Config {
	return Config{
		Port: "fake",
		Dial: func() (transport.Connection, error) {
			if dials != nil {
				*dials++
			}
			return conn, nil
		},
		Timeout:     50 * time.Millisecond,
		SettleDelay: time.Millisecond,
		Turnaround:  time.Millisecond,
	}
}

func TestConnect_ProbeSucceeds(t *testing.T) {
	conn := &fakeConn{respond: echoTemperature(585)}
	link := New(testConfig(conn, nil))

	require.True(t, link.Connect())
	assert.True(t, link.IsConnected())

	// The probe went to the default address with the fixed register read
	require.Len(t, conn.writes, 1)
	assert.Equal(t, modbus.BuildTemperatureRequest(DefaultProbeAddress), conn.writes[0])
}

func TestConnect_ProbeTimeout(t *testing.T) {
	conn := &fakeConn{} // never answers
	link := New(testConfig(conn, nil))

	assert.False(t, link.Connect())
	assert.False(t, link.IsConnected())
	assert.True(t, conn.closed, "failed probe should release the port")
}

func TestConnect_DialError(t *testing.T) {
	link := New(Config{
		Port:        "missing",
		Dial:        func() (transport.Connection, error) { return nil, errors.New("no such port") },
		Timeout:     50 * time.Millisecond,
		SettleDelay: time.Millisecond,
		Turnaround:  time.Millisecond,
	})

	assert.False(t, link.Connect())
	assert.False(t, link.IsConnected())
}

func TestReadTemperature_Valid(t *testing.T) {
	conn := &fakeConn{respond: echoTemperature(585)}
	link := New(testConfig(conn, nil))
	require.True(t, link.Connect())

	reading, ok := link.ReadTemperature(7)
	require.True(t, ok)
	assert.Equal(t, uint8(7), reading.Channel)
	assert.InDelta(t, 58.5, reading.Celsius, 1e-9)
	assert.False(t, reading.At.IsZero())

	// Second write on the wire is the channel request
	require.Len(t, conn.writes, 2)
	assert.Equal(t, modbus.BuildTemperatureRequest(7), conn.writes[1])
}

func TestReadTemperature_NegativeValue(t *testing.T) {
	conn := &fakeConn{respond: echoTemperature(-50)}
	link := New(testConfig(conn, nil))
	require.True(t, link.Connect())

	reading, ok := link.ReadTemperature(2)
	require.True(t, ok)
	assert.InDelta(t, -5.0, reading.Celsius, 1e-9)
}

func TestReadTemperature_LateFrameStillCounts(t *testing.T) {
	conn := &fakeConn{respond: echoTemperature(585)}
	cfg := testConfig(conn, nil)
	// The deadline expires before the reply is picked up; bytes already
	// on the wire must still be consumed, not dropped as a short read.
	cfg.Timeout = time.Nanosecond
	link := New(cfg)
	require.True(t, link.Connect())

	reading, ok := link.ReadTemperature(5)
	require.True(t, ok)
	assert.InDelta(t, 58.5, reading.Celsius, 1e-9)
}

func TestReadTemperature_SoftFailures(t *testing.T) {
	tests := []struct {
		name    string
		respond func([]byte) []byte
	}{
		{
			name:    "timeout, no response",
			respond: func(request []byte) []byte { return nil },
		},
		{
			name: "short response",
			respond: func(request []byte) []byte {
				return validResponse(request[0], 585)[:6]
			},
		},
		{
			name: "damaged CRC",
			respond: func(request []byte) []byte {
				frame := validResponse(request[0], 585)
				frame[5] ^= 0xFF
				return frame
			},
		},
		{
			name: "wrong unit answered",
			respond: func(request []byte) []byte {
				return validResponse(request[0]+1, 585)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{respond: echoTemperature(585)}
			link := New(testConfig(conn, nil))
			require.True(t, link.Connect())

			conn.mu.Lock()
			conn.respond = tt.respond
			conn.mu.Unlock()

			_, ok := link.ReadTemperature(3)
			assert.False(t, ok)
		})
	}
}

func TestReadTemperature_ReconnectsClosedPort(t *testing.T) {
	first := &fakeConn{respond: echoTemperature(585), writeErr: errors.New("device gone")}
	second := &fakeConn{respond: echoTemperature(600)}

	dials := 0
	cfg := testConfig(nil, nil)
	cfg.Dial = func() (transport.Connection, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}
	link := New(cfg)

	// First dial fails at the probe write, so the port ends up closed
	require.False(t, link.Connect())
	require.False(t, link.IsConnected())

	// The read finds the port closed, reconnects once, and succeeds
	reading, ok := link.ReadTemperature(4)
	require.True(t, ok)
	assert.InDelta(t, 60.0, reading.Celsius, 1e-9)
	assert.Equal(t, 2, dials)
	assert.True(t, link.IsConnected())
}

func TestReadTemperature_ReconnectFailure(t *testing.T) {
	link := New(Config{
		Port:        "gone",
		Dial:        func() (transport.Connection, error) { return nil, errors.New("unplugged") },
		Timeout:     50 * time.Millisecond,
		SettleDelay: time.Millisecond,
		Turnaround:  time.Millisecond,
	})

	_, ok := link.ReadTemperature(2)
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	conn := &fakeConn{respond: echoTemperature(585)}
	link := New(testConfig(conn, nil))
	require.True(t, link.Connect())

	link.Close()
	assert.False(t, link.IsConnected())
	assert.True(t, conn.closed)

	// Idempotent
	link.Close()
}
