// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tangzhuhan

package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Tangzhuhan/PIDCON/pkg/transport"
)

var (
	// Serial connection flags
	sensorPort string
	powerPort  string

	// WebSocket bridge flags (sensor bus only)
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pidcon",
	Short: "Resistive heating experiment controller",
	Long: `PIDCON - PID temperature control for resistive heating experiments.

Drives a programmable DC power supply against a Modbus RTU temperature
sensor bus: up to 60 sensor channels on one RS-485 line, one supply
channel, and a fixed-rate PID loop with warmup and dead-zone hold.

Connection modes for the sensor bus:
  Serial:    --sensor-port /dev/ttyUSB0
  WebSocket: --url ws://host/path [--username user]

The power supply is always a direct serial connection (--power-port).

For WebSocket authentication, the password is read from the PIDCON_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell
history.`,
	Version: "1.0.0",
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&sensorPort, "sensor-port", "s", "", "Serial port of the sensor bus")
	rootCmd.PersistentFlags().StringVarP(&powerPort, "power-port", "p", "", "Serial port of the power supply")

	// WebSocket bridge flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "Sensor bridge WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// sensorDialer resolves the sensor bus connection from flags
func sensorDialer() (transport.Dialer, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}
		return transport.DialWebSocket(wsURL, wsUsername, password, wsNoSSLVerify),
			fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if sensorPort != "" {
		return transport.DialSerial(sensorPort), fmt.Sprintf("Serial: %s", sensorPort), nil
	}

	return nil, "", fmt.Errorf("either --sensor-port or --url must be specified")
}

// powerDialer resolves the power supply connection from flags
func powerDialer() (transport.Dialer, string, error) {
	if powerPort == "" {
		return nil, "", fmt.Errorf("--power-port must be specified")
	}
	return transport.DialSerial(powerPort), fmt.Sprintf("Serial: %s", powerPort), nil
}

// GetPassword retrieves the bridge password from environment or prompts
func GetPassword() (string, error) {
	if pw := os.Getenv("PIDCON_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}
