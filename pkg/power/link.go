// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

// Package power drives the programmable power supply over its ASCII line
// protocol: one command per line, CRLF terminated, numeric replies with an
// optional trailing unit letter. Every set command is verified by reading
// the value back; the bus is assumed noisy, so malformed replies degrade to
// soft failures instead of errors.
package power

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Tangzhuhan/PIDCON/pkg/transport"
)

// Defaults for a Link config. The command delay gives the supply time to
// apply a setting before the read-back query.
const (
	DefaultTimeout      = 1 * time.Second
	DefaultCommandDelay = 100 * time.Millisecond
	DefaultTolerance    = 0.1
)

// Sample is one voltage/current measurement pair. A false OK flag marks a
// reply that never arrived or failed to parse.
type Sample struct {
	Voltage   float64
	VoltageOK bool
	Current   float64
	CurrentOK bool
	At        time.Time
}

// Config holds the Link's connection settings. Zero values take the package
// defaults; Port is ignored when Dial is set.
type Config struct {
	Port         string
	Dial         transport.Dialer
	Timeout      time.Duration
	CommandDelay time.Duration
	Tolerance    float64
	Logger       *slog.Logger
}

// Link owns the serial connection to the power supply.
type Link struct {
	cfg  Config
	log  *slog.Logger
	mu   sync.Mutex
	conn transport.Connection

	// outputOn mirrors the last confirmed OUTP state so Close can force the
	// output off before releasing the port.
	outputOn bool
}

// New creates a power supply link. The link is not connected until Connect.
func New(cfg Config) *Link {
	if cfg.Dial == nil {
		cfg.Dial = transport.DialSerial(cfg.Port)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CommandDelay <= 0 {
		cfg.CommandDelay = DefaultCommandDelay
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Link{cfg: cfg, log: log.With("link", "power")}
}

// Connect opens the port. Returns false on any transport failure.
func (l *Link) Connect() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}

	conn, err := l.cfg.Dial()
	if err != nil {
		l.log.Warn("open failed", "port", l.cfg.Port, "err", err)
		return false
	}
	if err := conn.SetReadTimeout(l.cfg.Timeout); err != nil {
		l.log.Warn("set read timeout failed", "err", err)
		conn.Close()
		return false
	}
	l.conn = conn
	l.log.Info("power supply connected", "port", l.cfg.Port)
	return true
}

// IsConnected reports whether the port handle is open
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// SetVoltage commands a target voltage and verifies it by reading the
// setting back. Accepts only if the read-back is within the configured
// tolerance of the target; any parse failure or mismatch is a soft failure.
func (l *Link) SetVoltage(v float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		l.log.Warn("set voltage on closed port")
		return false
	}

	if !l.sendLine(fmt.Sprintf("VOLT %.2f", v)) {
		return false
	}
	time.Sleep(l.cfg.CommandDelay)

	reply, ok := l.query("VOLT?")
	if !ok {
		return false
	}
	readback, ok := parseMeasurement(reply)
	if !ok {
		l.log.Warn("unparseable voltage read-back", "reply", reply)
		return false
	}
	if diff := readback - v; diff > l.cfg.Tolerance || diff < -l.cfg.Tolerance {
		l.log.Warn("voltage read-back outside tolerance",
			"target", v, "readback", readback)
		return false
	}
	return true
}

// ReadVoltage measures the actual output voltage
func (l *Link) ReadVoltage() (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.measure("MEAS:VOLT?")
}

// ReadCurrent measures the actual output current
func (l *Link) ReadCurrent() (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.measure("MEAS:CURR?")
}

// Sample measures voltage and current in one call. Each field carries its
// own OK flag so one failed reply does not discard the other.
func (l *Link) Sample() Sample {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Sample{At: time.Now()}
	s.Voltage, s.VoltageOK = l.measure("MEAS:VOLT?")
	s.Current, s.CurrentOK = l.measure("MEAS:CURR?")
	return s
}

// OutputOn enables the output stage, confirming via OUTP?
func (l *Link) OutputOn() bool {
	return l.setOutput(true)
}

// OutputOff disables the output stage, confirming via OUTP?
func (l *Link) OutputOff() bool {
	return l.setOutput(false)
}

func (l *Link) setOutput(on bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		l.log.Warn("output command on closed port")
		return false
	}

	cmd, want := "OUTP OFF", "0"
	if on {
		cmd, want = "OUTP ON", "1"
	}

	if !l.sendLine(cmd) {
		return false
	}
	time.Sleep(l.cfg.CommandDelay)

	reply, ok := l.query("OUTP?")
	if !ok || reply != want {
		l.log.Warn("output state not confirmed", "cmd", cmd, "reply", reply)
		return false
	}
	l.outputOn = on
	return true
}

// Close releases the port. If the output is on it is forced off first;
// failures in either step are logged, never returned.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return
	}

	if l.outputOn {
		if !l.sendLine("OUTP OFF") {
			l.log.Warn("failed to force output off during close")
		}
		l.outputOn = false
	}

	// A failed OUTP OFF write already released the port
	if l.conn == nil {
		return
	}
	if err := l.conn.Close(); err != nil {
		l.log.Warn("close failed", "err", err)
	}
	l.conn = nil
}

// Detach releases the port without touching the output state. Bench use
// only: an explicit output-on must survive the process exit.
func (l *Link) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return
	}
	if err := l.conn.Close(); err != nil {
		l.log.Warn("close failed", "err", err)
	}
	l.conn = nil
	l.outputOn = false
}

// measure sends a MEAS query and parses the reply. Callers hold l.mu.
func (l *Link) measure(cmd string) (float64, bool) {
	if l.conn == nil {
		return 0, false
	}
	reply, ok := l.query(cmd)
	if !ok {
		return 0, false
	}
	value, ok := parseMeasurement(reply)
	if !ok {
		l.log.Warn("unparseable measurement", "cmd", cmd, "reply", reply)
		return 0, false
	}
	return value, true
}

// sendLine writes one CRLF-terminated command. Callers hold l.mu.
func (l *Link) sendLine(cmd string) bool {
	if _, err := l.conn.Write([]byte(cmd + "\r\n")); err != nil {
		l.log.Warn("write failed", "cmd", cmd, "err", err)
		l.conn.Close()
		l.conn = nil
		return false
	}
	return true
}

// query sends a command and reads one reply line. Callers hold l.mu.
func (l *Link) query(cmd string) (string, bool) {
	if !l.sendLine(cmd) {
		return "", false
	}
	return l.readLine()
}

// readLine accumulates bytes until a newline or the timeout. Callers hold
// l.mu.
func (l *Link) readLine() (string, bool) {
	var line []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(l.cfg.Timeout)
	for {
		n, err := l.conn.Read(buf)
		if err != nil {
			l.log.Warn("read failed", "err", err)
			l.conn.Close()
			l.conn = nil
			return "", false
		}
		if n == 0 {
			// timeout with no terminator
			return "", false
		}
		line = append(line, buf[:n]...)
		if i := strings.IndexByte(string(line), '\n'); i >= 0 {
			return strings.TrimSpace(string(line[:i])), true
		}
		if time.Now().After(deadline) {
			return "", false
		}
	}
}

// parseMeasurement parses a numeric reply, stripping a single trailing unit
// letter such as V or A. Empty or malformed text reports not-ok.
func parseMeasurement(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if last := rune(s[len(s)-1]); unicode.IsLetter(last) {
		s = strings.TrimSpace(s[:len(s)-1])
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
