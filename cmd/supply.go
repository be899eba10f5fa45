// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tangzhuhan

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Tangzhuhan/PIDCON/pkg/power"
)

var supplyCmd = &cobra.Command{
	Use:   "supply",
	Short: "Bench control of the power supply",
	Long: `Talk to the power supply directly, outside any control loop.

Intended for bench bring-up: set a voltage, read back the measured
output, and toggle the output stage by hand before trusting the
closed loop with the hardware.`,
}

var supplySetCmd = &cobra.Command{
	Use:   "set <volts>",
	Short: "Set the output voltage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volts, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid voltage %q: %w", args[0], err)
		}
		return withSupply(func(link *power.Link) error {
			if !link.SetVoltage(volts) {
				return fmt.Errorf("supply did not confirm %.2f V", volts)
			}
			fmt.Printf("Output set to %.2f V\n", volts)
			return nil
		})
	},
}

var supplyReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read measured voltage and current",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSupply(func(link *power.Link) error {
			s := link.Sample()
			if !s.VoltageOK && !s.CurrentOK {
				return fmt.Errorf("supply did not answer measurement queries")
			}
			if s.VoltageOK {
				fmt.Printf("Voltage: %.2f V\n", s.Voltage)
			} else {
				fmt.Println("Voltage: no reading")
			}
			if s.CurrentOK {
				fmt.Printf("Current: %.2f A\n", s.Current)
			} else {
				fmt.Println("Current: no reading")
			}
			return nil
		})
	},
}

var supplyOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Enable the output stage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSupply(func(link *power.Link) error {
			if !link.OutputOn() {
				return fmt.Errorf("supply did not confirm output on")
			}
			fmt.Println("Output enabled")
			return nil
		})
	},
}

var supplyOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Disable the output stage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSupply(func(link *power.Link) error {
			if !link.OutputOff() {
				return fmt.Errorf("supply did not confirm output off")
			}
			fmt.Println("Output disabled")
			return nil
		})
	},
}

func init() {
	supplyCmd.AddCommand(supplySetCmd, supplyReadCmd, supplyOnCmd, supplyOffCmd)
	rootCmd.AddCommand(supplyCmd)
}

// withSupply connects, runs op, and closes the link
func withSupply(op func(*power.Link) error) error {
	dial, info, err := powerDialer()
	if err != nil {
		return err
	}
	link := power.New(power.Config{Dial: dial, Logger: newLogger()})
	if !link.Connect() {
		return fmt.Errorf("power supply not reachable on %s", info)
	}
	// Detach, not Close: an explicit "supply on" must outlive the command
	defer link.Detach()
	return op(link)
}
