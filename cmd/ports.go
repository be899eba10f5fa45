// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tangzhuhan

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tangzhuhan/PIDCON/pkg/transport"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List available serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := transport.ListPorts()
		if err != nil {
			return fmt.Errorf("enumerating serial ports: %w", err)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}
		for _, port := range ports {
			fmt.Println(port)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
