// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

// Package control composes the sensor bus, the power supply, and the PID
// engine into a fixed-rate control loop with a
// Idle/Warmup/Running/Paused/Stopped state machine, and accumulates the
// run's time series in an append-only record.
package control

// State is the control loop's lifecycle state. Warmup, Running, and Paused
// double as the phase tag on record rows.
type State int

const (
	Idle State = iota
	Warmup
	Running
	Paused
	Stopped
)

// String returns the state name for logging and display
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Warmup:
		return "warmup"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
