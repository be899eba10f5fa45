// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tangzhuhan
//
// PIDCON - PID temperature control for resistive heating experiments.
//
// Drives a programmable DC power supply against a Modbus RTU sensor bus.

package main

import (
	"os"

	"github.com/Tangzhuhan/PIDCON/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
