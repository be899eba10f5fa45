// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

// Package config loads and stores experiment configuration as YAML.
// Durations are carried in explicit integer units (milliseconds and
// seconds) so the files stay obvious to edit by hand.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tangzhuhan/PIDCON/pkg/control"
	"github.com/Tangzhuhan/PIDCON/pkg/pid"
)

// Experiment is one complete run configuration
type Experiment struct {
	Name string `yaml:"name,omitempty"`

	MainChannel       uint8   `yaml:"main_channel"`
	SecondaryChannels []uint8 `yaml:"secondary_channels,omitempty"`

	TargetCelsius   float64 `yaml:"target_celsius"`
	Kp              float64 `yaml:"kp"`
	Ki              float64 `yaml:"ki"`
	Kd              float64 `yaml:"kd"`
	InitialVoltage  float64 `yaml:"initial_voltage"`
	MaxVoltage      float64 `yaml:"max_voltage"`
	DeadZoneCelsius float64 `yaml:"dead_zone_celsius"`

	SamplingMillis int `yaml:"sampling_ms"`
	WarmupSeconds  int `yaml:"warmup_s"`

	// DurationSeconds of zero runs until stopped
	DurationSeconds int `yaml:"duration_s,omitempty"`
}

// Default returns the stock experiment configuration
func Default() Experiment {
	return Experiment{
		MainChannel:     2,
		TargetCelsius:   60.0,
		Kp:              0.2,
		Ki:              0.002,
		Kd:              0.005,
		InitialVoltage:  3.0,
		MaxVoltage:      17.0,
		DeadZoneCelsius: 1.0,
		SamplingMillis:  1000,
		WarmupSeconds:   30,
	}
}

// Load reads path and overlays it on the defaults, so a partial file only
// overrides the keys it names.
func Load(path string) (Experiment, error) {
	exp := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return exp, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return exp, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return exp, nil
}

// Save writes the configuration to path
func (e Experiment) Save(path string) error {
	data, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Sampling returns the control interval
func (e Experiment) Sampling() time.Duration {
	return time.Duration(e.SamplingMillis) * time.Millisecond
}

// Warmup returns the warmup window
func (e Experiment) Warmup() time.Duration {
	return time.Duration(e.WarmupSeconds) * time.Second
}

// Duration returns the run cap, zero meaning unbounded
func (e Experiment) Duration() time.Duration {
	return time.Duration(e.DurationSeconds) * time.Second
}

// RunWindow returns the total wall time of a capped run. The duration
// clock starts when warmup ends, so the window is warmup plus duration.
// Zero when the run is unbounded.
func (e Experiment) RunWindow() time.Duration {
	if e.DurationSeconds == 0 {
		return 0
	}
	return e.Warmup() + e.Duration()
}

// ControlOptions maps the configuration onto the control loop. Validation
// happens in control.Options.Validate.
func (e Experiment) ControlOptions() control.Options {
	return control.Options{
		Channels: control.NewChannelSet(e.MainChannel, e.SecondaryChannels...),
		Params: pid.Parameters{
			Kp:             e.Kp,
			Ki:             e.Ki,
			Kd:             e.Kd,
			Setpoint:       e.TargetCelsius,
			InitialVoltage: e.InitialVoltage,
			MaxVoltage:     e.MaxVoltage,
			DeadZoneWidth:  e.DeadZoneCelsius,
			Interval:       e.Sampling(),
		},
		Warmup: e.Warmup(),
	}
}
