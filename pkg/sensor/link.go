// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

// Package sensor drives the Modbus RTU temperature sensor bus. Up to 60
// addressable sensors share one serial line; each is read with a
// single-register exchange built and validated by pkg/modbus.
package sensor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Tangzhuhan/PIDCON/pkg/modbus"
	"github.com/Tangzhuhan/PIDCON/pkg/transport"
)

// Defaults for a Link config. The settle delay gives the USB adapter time to
// come up after open; the turnaround delay is the sensors' minimum gap
// between request and response.
const (
	DefaultTimeout      = 2 * time.Second
	DefaultProbeAddress = 0x02
	DefaultSettleDelay  = 500 * time.Millisecond
	DefaultTurnaround   = 100 * time.Millisecond
)

// Reading is a single temperature sample from one channel. Produced only by
// this package and never mutated after return.
type Reading struct {
	Channel uint8
	Celsius float64
	At      time.Time
}

// Config holds the Link's connection settings. Zero values take the package
// defaults; Port is ignored when Dial is set.
type Config struct {
	Port         string
	Dial         transport.Dialer
	Timeout      time.Duration
	ProbeAddress uint8
	SettleDelay  time.Duration
	Turnaround   time.Duration
	Logger       *slog.Logger
}

// Link owns the serial connection to the sensor bus. All transient bus
// conditions (timeouts, garbled frames, wrong responder) degrade to a
// missing reading; the caller decides whether and when to retry.
type Link struct {
	cfg  Config
	log  *slog.Logger
	mu   sync.Mutex
	conn transport.Connection

	// connected records that a probe handshake has succeeded since the last
	// close; IsConnected requires both this and an open handle.
	connected bool
}

// New creates a sensor bus link. The link is not connected until Connect.
func New(cfg Config) *Link {
	if cfg.Dial == nil {
		cfg.Dial = transport.DialSerial(cfg.Port)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ProbeAddress == 0 {
		cfg.ProbeAddress = DefaultProbeAddress
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Turnaround <= 0 {
		cfg.Turnaround = DefaultTurnaround
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Link{cfg: cfg, log: log.With("link", "sensor")}
}

// Connect opens the bus and performs a liveness probe: a temperature read
// request to the probe address must produce a well-formed 7-byte reply
// within the timeout. Returns false on any transport or protocol failure.
func (l *Link) Connect() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connectLocked()
}

func (l *Link) connectLocked() bool {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.connected = false

	conn, err := l.cfg.Dial()
	if err != nil {
		l.log.Warn("open failed", "port", l.cfg.Port, "err", err)
		return false
	}
	l.conn = conn

	if err := conn.SetReadTimeout(l.cfg.Timeout); err != nil {
		l.log.Warn("set read timeout failed", "err", err)
		conn.Close()
		l.conn = nil
		return false
	}

	// Let the adapter settle, then start from empty buffers
	time.Sleep(l.cfg.SettleDelay)
	if err := conn.Flush(); err != nil {
		l.log.Warn("flush failed", "err", err)
	}

	request := modbus.BuildTemperatureRequest(l.cfg.ProbeAddress)
	if _, err := conn.Write(request); err != nil {
		l.log.Warn("probe write failed", "err", err)
		conn.Close()
		l.conn = nil
		return false
	}
	time.Sleep(l.cfg.Turnaround)

	frame, err := l.readFrame()
	if err != nil || len(frame) != modbus.ResponseLength {
		l.log.Warn("probe read failed", "bytes", len(frame), "err", err)
		conn.Close()
		l.conn = nil
		return false
	}

	l.connected = true
	l.log.Info("sensor bus connected", "port", l.cfg.Port, "probe", l.cfg.ProbeAddress)
	return true
}

// ReadTemperature performs the read exchange for one channel. The second
// return value is false on any timeout, short or garbled response, or
// address/function/CRC mismatch; these are expected bus conditions, not
// errors. If the port is found closed, one reconnect is attempted first.
func (l *Link) ReadTemperature(channel uint8) (Reading, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		l.log.Info("port closed, reconnecting", "port", l.cfg.Port)
		if !l.connectLocked() {
			return Reading{}, false
		}
	}

	if err := l.conn.Flush(); err != nil {
		l.log.Warn("flush failed", "channel", channel, "err", err)
	}

	request := modbus.BuildTemperatureRequest(channel)
	if _, err := l.conn.Write(request); err != nil {
		l.log.Warn("request write failed", "channel", channel, "err", err)
		l.closeLocked()
		return Reading{}, false
	}
	time.Sleep(l.cfg.Turnaround)

	frame, err := l.readFrame()
	if err != nil {
		l.log.Warn("response read failed", "channel", channel, "err", err)
		l.closeLocked()
		return Reading{}, false
	}

	raw, err := modbus.ParseReadResponse(frame, channel)
	if err != nil {
		l.log.Warn("response rejected", "channel", channel, "err", err)
		return Reading{}, false
	}

	return Reading{
		Channel: channel,
		Celsius: modbus.Temperature(raw),
		At:      time.Now(),
	}, true
}

// readFrame reads up to one response frame. A zero-byte read means the port
// timeout expired; whatever arrived so far is returned and left for the
// frame parser to judge.
func (l *Link) readFrame() ([]byte, error) {
	buf := make([]byte, modbus.ResponseLength)
	total := 0
	deadline := time.Now().Add(l.cfg.Timeout)
	for total < len(buf) {
		n, err := l.conn.Read(buf[total:])
		if err != nil {
			return buf[:total], err
		}
		total += n
		if n == 0 || time.Now().After(deadline) {
			break
		}
	}
	return buf[:total], nil
}

// IsConnected reports whether a probe has succeeded and the handle is still
// open.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected && l.conn != nil
}

// Close releases the port. Best effort: failures are logged, not returned.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
}

func (l *Link) closeLocked() {
	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			l.log.Warn("close failed", "err", err)
		}
		l.conn = nil
	}
	l.connected = false
}
