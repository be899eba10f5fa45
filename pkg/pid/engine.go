// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

// Package pid implements the control law for the heating experiment: a
// textbook clamped PID with a held-output dead band around the setpoint.
// The engine is a pure state machine; it never touches a device.
package pid

import (
	"sync"
	"time"
)

// Output and state clamps. The supply must never be commanded below 1 V
// while a run is active, and the integral and derivative terms are bounded
// to keep a sustained error from winding the controller up.
const (
	MinOutputVoltage = 1.0
	IntegralLimit    = 200.0
	DerivativeLimit  = 200.0
)

// Parameters are the tuning constants for one run. They are mutated only
// between runs or through SetParameters while the control loop is idle.
type Parameters struct {
	Kp float64
	Ki float64
	Kd float64

	// Setpoint is the target temperature in degrees Celsius
	Setpoint float64

	// InitialVoltage is the warm-up hold voltage; also the dead-band
	// fallback when no read-back is available
	InitialVoltage float64

	// MaxVoltage bounds every command sent to the supply
	MaxVoltage float64

	// DeadZoneWidth is the half-width of the band around the setpoint, in
	// degrees, within which the output is held constant
	DeadZoneWidth float64

	// Interval is the sampling interval; the integration step dt is derived
	// from it
	Interval time.Duration
}

// State is a read-only snapshot of the engine's internal state
type State struct {
	LastError       float64
	Integral        float64
	InDeadZone      bool
	DeadZoneVoltage float64
}

// Engine computes a clamped voltage command from a temperature error. The
// control task is the sole writer; Snapshot serves read-only observers.
type Engine struct {
	mu     sync.Mutex
	params Parameters
	state  State
}

// New creates an engine with zeroed state
func New(params Parameters) *Engine {
	return &Engine{params: params}
}

// Update advances the controller by one tick and returns the voltage to
// command, always within [MinOutputVoltage, MaxVoltage].
//
// outputVolts is the supply's present measured output, used to capture the
// hold level when the error enters the dead band; pass outputKnown=false
// when no measurement is available and the configured fallback is used
// instead.
func (e *Engine) Update(currentTemp, outputVolts float64, outputKnown bool) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.params
	err := p.Setpoint - currentTemp

	var output float64
	if abs(err) <= p.DeadZoneWidth {
		if !e.state.InDeadZone {
			// Capture the present output as the hold level. A missing or
			// implausibly low read-back falls back to the initial voltage.
			hold := outputVolts
			if !outputKnown || hold < MinOutputVoltage {
				hold = min(p.InitialVoltage, p.MaxVoltage)
			}
			e.state.DeadZoneVoltage = hold
			e.state.InDeadZone = true
		}
		output = e.state.DeadZoneVoltage
	} else {
		e.state.InDeadZone = false

		dt := p.Interval.Seconds()
		if dt <= 0 {
			dt = 1.0
		}

		e.state.Integral = clamp(e.state.Integral+err*dt, -IntegralLimit, IntegralLimit)
		derivative := clamp((err-e.state.LastError)/dt, -DerivativeLimit, DerivativeLimit)

		output = p.Kp*err + p.Ki*e.state.Integral + p.Kd*derivative
	}

	e.state.LastError = err
	return clamp(output, MinOutputVoltage, p.MaxVoltage)
}

// Reset clears all accumulated state. Called on every start and stop
// transition of the control loop.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = State{}
}

// Snapshot returns a copy of the engine state for display
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Parameters returns the current tuning constants
func (e *Engine) Parameters() Parameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// SetParameters replaces the tuning constants. Only call while the control
// loop is idle; the loop never changes parameters mid-run.
func (e *Engine) SetParameters(params Parameters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = params
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
