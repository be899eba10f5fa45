// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Tangzhuhan/PIDCON/pkg/modbus"
	"github.com/Tangzhuhan/PIDCON/pkg/pid"
	"github.com/Tangzhuhan/PIDCON/pkg/power"
	"github.com/Tangzhuhan/PIDCON/pkg/sensor"
)

// SensorBus is the sensor-side device contract. Satisfied by sensor.Link;
// tests substitute mocks.
type SensorBus interface {
	Connect() bool
	ReadTemperature(channel uint8) (sensor.Reading, bool)
	IsConnected() bool
	Close()
}

// PowerSupply is the supply-side device contract. Satisfied by power.Link;
// tests substitute mocks.
type PowerSupply interface {
	Connect() bool
	IsConnected() bool
	SetVoltage(v float64) bool
	Sample() power.Sample
	OutputOn() bool
	OutputOff() bool
	Close()
}

var (
	_ SensorBus   = (*sensor.Link)(nil)
	_ PowerSupply = (*power.Link)(nil)
)

// connectAttempts bounds the start-of-run handshake; three consecutive
// failures report the link as unavailable.
const connectAttempts = 3

// Link-unavailable sentinels returned by Start
var (
	ErrSensorUnavailable = errors.New("sensor link unavailable")
	ErrPowerUnavailable  = errors.New("power supply link unavailable")
)

// Options configures one run
type Options struct {
	Channels ChannelSet
	Params   pid.Parameters

	// Warmup is the fixed duration during which the output is held at the
	// initial voltage and the engine is not invoked
	Warmup time.Duration
}

// Validate rejects misconfiguration synchronously, before any device I/O
func (o Options) Validate() error {
	if _, ok := o.Channels.Main(); !ok {
		return errors.New("no main channel selected")
	}
	for _, ch := range o.Channels.All() {
		if ch < modbus.MinUnitAddress || ch > modbus.MaxUnitAddress {
			return fmt.Errorf("channel %d outside Modbus unit address range %d-%d",
				ch, modbus.MinUnitAddress, modbus.MaxUnitAddress)
		}
	}
	if o.Params.Setpoint <= 0 {
		return errors.New("target temperature must be positive")
	}
	if o.Params.Interval <= 0 {
		return errors.New("sampling interval must be positive")
	}
	if o.Params.MaxVoltage < pid.MinOutputVoltage {
		return fmt.Errorf("max voltage %.2f below the %.1f V output floor",
			o.Params.MaxVoltage, pid.MinOutputVoltage)
	}
	if o.Params.InitialVoltage < 0 {
		return errors.New("initial voltage must not be negative")
	}
	if o.Params.DeadZoneWidth < 0 {
		return errors.New("dead zone width must not be negative")
	}
	if o.Params.Kp < 0 || o.Params.Ki < 0 || o.Params.Kd < 0 {
		return errors.New("PID gains must not be negative")
	}
	if o.Warmup < 0 {
		return errors.New("warmup time must not be negative")
	}
	return nil
}

// Loop is the fixed-interval scheduler driving one control session. A single
// goroutine owns all device I/O; Pause, Resume, and Stop serialize on the
// same mutex as the tick, so no second poller ever interleaves requests on
// the shared serial buses. Observers read immutable snapshots only.
type Loop struct {
	mu      sync.Mutex
	opts    Options
	sensors SensorBus
	supply  PowerSupply
	engine  *pid.Engine
	log     *slog.Logger

	state       State
	rec         *Record
	started     time.Time
	warmupUntil time.Time
	cancel      context.CancelFunc
	done        chan struct{}

	// Previous tick's measured output voltage; the engine's dead-band
	// read-back source.
	lastVoltage   float64
	lastVoltageOK bool
}

// New creates an idle loop. The engine is constructed from opts.Params.
func New(sensors SensorBus, supply PowerSupply, opts Options, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		opts:    opts,
		sensors: sensors,
		supply:  supply,
		engine:  pid.New(opts.Params),
		log:     logger.With("component", "control"),
		state:   Idle,
	}
}

// Start validates the configuration, engages both links, and launches the
// tick goroutine. The run begins in Warmup (or directly in Running when no
// warmup time is configured). ctx cancellation stops the ticks but does not
// replace Stop: callers still invoke Stop for an ordered shutdown.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Warmup, Running, Paused:
		return fmt.Errorf("control loop is %s; stop it first", l.state)
	}

	if err := l.opts.Validate(); err != nil {
		return err
	}

	if !connectWithRetry(l.sensors.Connect) {
		return fmt.Errorf("%w after %d attempts", ErrSensorUnavailable, connectAttempts)
	}
	if !connectWithRetry(l.supply.Connect) {
		l.sensors.Close()
		return fmt.Errorf("%w after %d attempts", ErrPowerUnavailable, connectAttempts)
	}

	l.engine.Reset()
	l.lastVoltage, l.lastVoltageOK = 0, false

	// The warmup hold voltage gets the same clamp as every running command
	hold := warmupVoltage(l.opts.Params)
	if !retry(connectAttempts, func() bool { return l.supply.SetVoltage(hold) }) {
		l.log.Warn("failed to set warmup voltage; continuing", "volts", hold)
	}
	if !retry(connectAttempts, func() bool { return l.supply.OutputOn() }) {
		l.log.Warn("failed to enable output; continuing")
	}

	now := time.Now()
	l.started = now
	l.warmupUntil = now.Add(l.opts.Warmup)
	l.rec = NewRecord(l.opts.Channels.All(), now)

	if l.opts.Warmup > 0 {
		l.state = Warmup
	} else {
		l.state = Running
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(runCtx)

	l.log.Info("control started",
		"state", l.state,
		"channels", l.opts.Channels.Len(),
		"interval", l.opts.Params.Interval,
		"warmup", l.opts.Warmup,
		"hold_volts", hold)
	return nil
}

// Pause switches the output stage off but keeps the ticks and channel
// sampling going for observability. No-op outside Running.
func (l *Loop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Running {
		return
	}
	if !l.supply.OutputOff() {
		l.log.Warn("failed to disable output on pause")
	}
	l.state = Paused
	l.log.Info("control paused")
}

// Resume re-enables the output stage and returns to closed-loop control.
// No-op outside Paused.
func (l *Loop) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Paused {
		return
	}
	if !l.supply.OutputOn() {
		l.log.Warn("failed to re-enable output on resume")
	}
	l.state = Running
	l.log.Info("control resumed")
}

// Stop drives the loop to the terminal Stopped state. It is the emergency
// path: callable from any state, safe concurrently with an in-flight tick,
// and it guarantees the output is commanded to zero and disabled before it
// returns. Every teardown step is attempted even if earlier ones fail.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state == Stopped {
		l.mu.Unlock()
		return
	}
	from := l.state
	l.state = Stopped
	if l.cancel != nil {
		l.cancel()
	}

	if !l.supply.SetVoltage(0) {
		l.log.Warn("failed to command zero volts during stop")
	}
	if !l.supply.OutputOff() {
		l.log.Warn("failed to disable output during stop")
	}
	l.supply.Close()
	l.sensors.Close()
	l.engine.Reset()

	done := l.done
	l.mu.Unlock()

	if done != nil {
		<-done
	}
	l.log.Info("control stopped", "from", from)
}

// State returns the current lifecycle state
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Record returns the run's record, nil before the first start. The record
// is append-only; readers receive copies.
func (l *Loop) Record() *Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec
}

// Snapshot returns the last appended row, the display layer's read-only
// view of the run.
func (l *Loop) Snapshot() (Row, bool) {
	l.mu.Lock()
	rec := l.rec
	l.mu.Unlock()
	if rec == nil {
		return Row{}, false
	}
	return rec.Last()
}

// EngineState exposes the PID engine state for display
func (l *Loop) EngineState() pid.State {
	return l.engine.Snapshot()
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.opts.Params.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

// tick executes one sampling period. A tick that cannot reach a link after
// one reconnect attempt is skipped whole; the loop is never torn down by a
// single bad tick.
func (l *Loop) tick() {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Warmup:
		if !time.Now().Before(l.warmupUntil) {
			l.state = Running
			l.log.Info("warmup complete, closed-loop control engaged")
		}
	case Running, Paused:
	default:
		return
	}

	if !l.ensureLinks() {
		return
	}

	now := time.Now()
	row := Row{
		Phase:   l.state,
		At:      now,
		Elapsed: now.Sub(l.started).Seconds(),
		Temps:   make(map[uint8]Datum, l.opts.Channels.Len()),
	}

	mainCh, _ := l.opts.Channels.Main()
	var mainTemp float64
	mainOK := false
	for _, ch := range l.opts.Channels.All() {
		reading, ok := l.sensors.ReadTemperature(ch)
		if !ok {
			l.log.Warn("no reading", "channel", ch)
			row.Temps[ch] = Datum{}
			continue
		}
		row.Temps[ch] = Datum{Value: reading.Celsius, OK: true}
		if ch == mainCh {
			mainTemp = reading.Celsius
			mainOK = true
		}
	}

	switch l.state {
	case Running:
		if mainOK {
			out := l.engine.Update(mainTemp, l.lastVoltage, l.lastVoltageOK)
			if !l.supply.SetVoltage(out) {
				l.log.Warn("voltage command not accepted", "volts", out)
			}
		} else {
			l.log.Warn("main channel unreadable, holding output", "channel", mainCh)
		}
		l.samplePower(&row)
	case Warmup:
		// Passive logging only; the hold voltage was set at start
		l.samplePower(&row)
	case Paused:
		// Output stage is off; record zeros rather than measurements
		row.Voltage = Datum{Value: 0, OK: true}
		row.Current = Datum{Value: 0, OK: true}
	}

	l.rec.Append(row)
}

func (l *Loop) samplePower(row *Row) {
	s := l.supply.Sample()
	row.Voltage = Datum{Value: s.Voltage, OK: s.VoltageOK}
	row.Current = Datum{Value: s.Current, OK: s.CurrentOK}
	l.lastVoltage, l.lastVoltageOK = s.Voltage, s.VoltageOK
}

func (l *Loop) ensureLinks() bool {
	if !l.sensors.IsConnected() {
		l.log.Warn("sensor link down, reconnecting")
		if !l.sensors.Connect() {
			l.log.Warn("sensor reconnect failed, skipping tick")
			return false
		}
	}
	if !l.supply.IsConnected() {
		l.log.Warn("power link down, reconnecting")
		if !l.supply.Connect() {
			l.log.Warn("power reconnect failed, skipping tick")
			return false
		}
	}
	return true
}

// warmupVoltage is the held output during warmup: the initial voltage,
// never above the maximum and never below the output floor.
func warmupVoltage(p pid.Parameters) float64 {
	hold := p.InitialVoltage
	if hold > p.MaxVoltage {
		hold = p.MaxVoltage
	}
	if hold < pid.MinOutputVoltage {
		hold = pid.MinOutputVoltage
	}
	return hold
}

func connectWithRetry(connect func() bool) bool {
	return retry(connectAttempts, connect)
}

func retry(attempts int, op func() bool) bool {
	for i := 0; i < attempts; i++ {
		if op() {
			return true
		}
	}
	return false
}
