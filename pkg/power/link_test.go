// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

package power

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tangzhuhan/PIDCON/pkg/transport"
)

// fakeSupply scripts the instrument side of the line protocol: each written
// line is answered through the respond callback. A Read with nothing
// buffered returns (0, nil), matching the serial timeout contract.
type fakeSupply struct {
	mu       sync.Mutex
	lines    []string
	rx       bytes.Buffer
	respond  func(line string) string // return "" for no reply
	writeErr error
	closed   bool
}

var _ transport.Connection = (*fakeSupply)(nil)

func (f *fakeSupply) Read(p []byte) (int, error) {
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

func (f *fakeSupply) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	line := strings.TrimSpace(string(p))
	f.lines = append(f.lines, line)
	if f.respond != nil {
		if reply := f.respond(line); reply != "" {
			f.rx.WriteString(reply + "\r\n")
		}
	}
	return len(p), nil
}

func (f *fakeSupply) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSupply) SetReadTimeout(time.Duration) error { return nil }

func (f *fakeSupply) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx.Reset()
	return nil
}

// bench simulates a healthy supply tracking VOLT and OUTP state
func bench() *fakeSupply {
	f := &fakeSupply{}
	voltage := "0.00"
	output := "0"
	f.respond = func(line string) string {
		switch {
		case strings.HasPrefix(line, "VOLT "):
			voltage = strings.TrimPrefix(line, "VOLT ")
			return ""
		case line == "VOLT?":
			return voltage + "V"
		case line == "MEAS:VOLT?":
			return voltage + "V"
		case line == "MEAS:CURR?":
			return "0.42A"
		case line == "OUTP ON":
			output = "1"
			return ""
		case line == "OUTP OFF":
			output = "0"
			return ""
		case line == "OUTP?":
			return output
		}
		return ""
	}
	return f
}

func testLink(conn *fakeSupply) *Link {
	return New(Config{
		Port:         "fake",
		Dial:         func() (transport.Connection, error) { return conn, nil },
		Timeout:      50 * time.Millisecond,
		CommandDelay: time.Millisecond,
	})
}

func TestSetVoltage_Verified(t *testing.T) {
	conn := bench()
	link := testLink(conn)
	require.True(t, link.Connect())

	require.True(t, link.SetVoltage(3.0))
	assert.Equal(t, []string{"VOLT 3.00", "VOLT?"}, conn.lines)
}

func TestSetVoltage_ReadbackMismatch(t *testing.T) {
	conn := bench()
	link := testLink(conn)
	require.True(t, link.Connect())

	// Supply answers the query with a stale value
	conn.mu.Lock()
	conn.respond = func(line string) string {
		if line == "VOLT?" {
			return "2.50V"
		}
		return ""
	}
	conn.mu.Unlock()

	assert.False(t, link.SetVoltage(3.0))
}

func TestSetVoltage_WithinTolerance(t *testing.T) {
	conn := bench()
	link := testLink(conn)
	require.True(t, link.Connect())

	conn.mu.Lock()
	conn.respond = func(line string) string {
		if line == "VOLT?" {
			return "3.05V"
		}
		return ""
	}
	conn.mu.Unlock()

	assert.True(t, link.SetVoltage(3.0))
}

func TestSetVoltage_GarbledReply(t *testing.T) {
	conn := bench()
	link := testLink(conn)
	require.True(t, link.Connect())

	conn.mu.Lock()
	conn.respond = func(line string) string {
		if line == "VOLT?" {
			return "?ERR"
		}
		return ""
	}
	conn.mu.Unlock()

	assert.False(t, link.SetVoltage(3.0))
}

func TestSetVoltage_ClosedPort(t *testing.T) {
	link := testLink(bench())
	assert.False(t, link.SetVoltage(3.0))
}

func TestReadVoltage_StripsUnit(t *testing.T) {
	conn := bench()
	link := testLink(conn)
	require.True(t, link.Connect())
	require.True(t, link.SetVoltage(12.34))

	v, ok := link.ReadVoltage()
	require.True(t, ok)
	assert.InDelta(t, 12.34, v, 1e-9)
}

func TestReadCurrent_StripsUnit(t *testing.T) {
	conn := bench()
	link := testLink(conn)
	require.True(t, link.Connect())

	c, ok := link.ReadCurrent()
	require.True(t, ok)
	assert.InDelta(t, 0.42, c, 1e-9)
}

func TestReadVoltage_Timeout(t *testing.T) {
	conn := &fakeSupply{} // never answers
	link := testLink(conn)
	require.True(t, link.Connect())

	_, ok := link.ReadVoltage()
	assert.False(t, ok)
}

func TestSample_PartialFailure(t *testing.T) {
	conn := bench()
	link := testLink(conn)
	require.True(t, link.Connect())
	require.True(t, link.SetVoltage(5.0))

	conn.mu.Lock()
	base := conn.respond
	conn.respond = func(line string) string {
		if line == "MEAS:CURR?" {
			return "noise" // malformed
		}
		return base(line)
	}
	conn.mu.Unlock()

	s := link.Sample()
	assert.True(t, s.VoltageOK)
	assert.InDelta(t, 5.0, s.Voltage, 1e-9)
	assert.False(t, s.CurrentOK)
	assert.False(t, s.At.IsZero())
}

func TestOutputOnOff_Confirmed(t *testing.T) {
	conn := bench()
	link := testLink(conn)
	require.True(t, link.Connect())

	require.True(t, link.OutputOn())
	require.True(t, link.OutputOff())
	assert.Equal(t, []string{"OUTP ON", "OUTP?", "OUTP OFF", "OUTP?"}, conn.lines)
}

func TestOutputOn_NotConfirmed(t *testing.T) {
	conn := bench()
	link := testLink(conn)
	require.True(t, link.Connect())

	conn.mu.Lock()
	conn.respond = func(line string) string {
		if line == "OUTP?" {
			return "0" // stage failed to latch
		}
		return ""
	}
	conn.mu.Unlock()

	assert.False(t, link.OutputOn())
}

func TestClose_ForcesOutputOff(t *testing.T) {
	conn := bench()
	link := testLink(conn)
	require.True(t, link.Connect())
	require.True(t, link.OutputOn())

	link.Close()
	assert.False(t, link.IsConnected())
	assert.True(t, conn.closed)
	assert.Equal(t, "OUTP OFF", conn.lines[len(conn.lines)-1])

	// Idempotent
	link.Close()
}

func TestClose_OutputOffWriteFails(t *testing.T) {
	conn := bench()
	link := testLink(conn)
	require.True(t, link.Connect())
	require.True(t, link.OutputOn())

	// The forced OUTP OFF write fails and drops the port mid-close
	conn.writeErr = errors.New("io failure")
	link.Close()
	assert.False(t, link.IsConnected())
	assert.True(t, conn.closed)

	// Idempotent
	link.Close()
}

func TestDetach_LeavesOutputAlone(t *testing.T) {
	conn := bench()
	link := testLink(conn)
	require.True(t, link.Connect())
	require.True(t, link.OutputOn())

	link.Detach()
	assert.False(t, link.IsConnected())
	assert.True(t, conn.closed)
	assert.NotEqual(t, "OUTP OFF", conn.lines[len(conn.lines)-1])

	// Idempotent
	link.Detach()
}

func TestParseMeasurement(t *testing.T) {
	tests := []struct {
		in    string
		value float64
		ok    bool
	}{
		{"12.34V", 12.34, true},
		{"0.42A", 0.42, true},
		{"  7.00 V ", 7.00, true},
		{"-1.5", -1.5, true},
		{"3", 3, true},
		{"", 0, false},
		{"V", 0, false},
		{"12..3V", 0, false},
		{"noise", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			value, ok := parseMeasurement(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.value, value, 1e-9)
			}
		})
	}
}
