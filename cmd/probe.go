// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tangzhuhan

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tangzhuhan/PIDCON/pkg/modbus"
	"github.com/Tangzhuhan/PIDCON/pkg/transport"
)

var (
	probeFrom      uint8
	probeTo        uint8
	probeTimeoutMS int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Scan the sensor bus for responding channels",
	Long: `Scan a range of Modbus unit addresses on the sensor bus.

Each address in the range gets one temperature read request. Addresses
that answer with a valid frame are listed with their current reading;
silent or garbled addresses are skipped. Useful for verifying bus wiring
and discovering how a batch of sensors is addressed.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().Uint8Var(&probeFrom, "from", 1, "First unit address to probe")
	probeCmd.Flags().Uint8Var(&probeTo, "to", 60, "Last unit address to probe")
	probeCmd.Flags().IntVar(&probeTimeoutMS, "timeout-ms", 500, "Per-address response timeout")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	if probeFrom < modbus.MinUnitAddress || probeTo > modbus.MaxUnitAddress || probeFrom > probeTo {
		return fmt.Errorf("invalid address range %d-%d", probeFrom, probeTo)
	}

	dial, info, err := sensorDialer()
	if err != nil {
		return err
	}
	conn, err := dial()
	if err != nil {
		return fmt.Errorf("opening sensor bus: %w", err)
	}
	defer conn.Close()

	timeout := time.Duration(probeTimeoutMS) * time.Millisecond
	if err := conn.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("configuring read timeout: %w", err)
	}

	fmt.Printf("Scanning %s, addresses %d-%d\n", info, probeFrom, probeTo)
	found := 0
	for addr := probeFrom; ; addr++ {
		if temp, ok := probeAddress(conn, addr, timeout); ok {
			fmt.Printf("  channel %3d: %6.1f °C\n", addr, temp)
			found++
		}
		if addr == probeTo {
			break
		}
	}
	fmt.Printf("%d of %d addresses responded\n", found, int(probeTo)-int(probeFrom)+1)
	return nil
}

func probeAddress(conn transport.Connection, addr uint8, timeout time.Duration) (float64, bool) {
	if err := conn.Flush(); err != nil {
		return 0, false
	}
	if _, err := conn.Write(modbus.BuildTemperatureRequest(addr)); err != nil {
		return 0, false
	}

	frame := make([]byte, 0, modbus.ResponseLength)
	buf := make([]byte, modbus.ResponseLength)
	deadline := time.Now().Add(timeout)
	for len(frame) < modbus.ResponseLength {
		n, err := conn.Read(buf)
		if err != nil {
			return 0, false
		}
		frame = append(frame, buf[:n]...)
		if n == 0 && time.Now().After(deadline) {
			return 0, false
		}
	}

	raw, err := modbus.ParseReadResponse(frame, addr)
	if err != nil {
		return 0, false
	}
	return modbus.Temperature(raw), true
}
