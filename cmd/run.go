// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tangzhuhan

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tangzhuhan/PIDCON/pkg/config"
	"github.com/Tangzhuhan/PIDCON/pkg/control"
	"github.com/Tangzhuhan/PIDCON/pkg/power"
	"github.com/Tangzhuhan/PIDCON/pkg/sensor"
)

var (
	runConfigPath  string
	runPresetName  string
	runPresetsPath string
	runArchivePath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a heating experiment",
	Long: `Run a closed-loop heating experiment.

The experiment starts with a warmup window at the configured initial
voltage, then hands the output target over to the PID engine. Every
sampling period, all configured channels are read and one row is
appended to the run record.

The run stops on SIGINT/SIGTERM, or after the configured duration.
On stop, the output is commanded to zero and disabled before the links
close, and the run record is archived.

Configuration comes from --config (YAML, partial files overlay the
defaults) or from a named preset (--preset). With neither, the stock
defaults are used.`,
	RunE: runExperiment,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Experiment config file (YAML)")
	runCmd.Flags().StringVar(&runPresetName, "preset", "", "Named preset to run")
	runCmd.Flags().StringVar(&runPresetsPath, "presets", "presets.yaml", "Preset store file")
	runCmd.Flags().StringVarP(&runArchivePath, "archive", "a", "", "Archive file for the run record (default run-<timestamp>.cbor)")
	rootCmd.AddCommand(runCmd)
}

func loadExperiment() (config.Experiment, error) {
	if runConfigPath != "" && runPresetName != "" {
		return config.Experiment{}, fmt.Errorf("--config and --preset are mutually exclusive")
	}
	if runConfigPath != "" {
		return config.Load(runConfigPath)
	}
	if runPresetName != "" {
		return config.NewPresetStore(runPresetsPath).Get(runPresetName)
	}
	return config.Default(), nil
}

func runExperiment(cmd *cobra.Command, args []string) error {
	exp, err := loadExperiment()
	if err != nil {
		return err
	}

	opts := exp.ControlOptions()
	if err := opts.Validate(); err != nil {
		return err
	}

	logger := newLogger()

	sensorDial, sensorInfo, err := sensorDialer()
	if err != nil {
		return err
	}
	powerDial, powerInfo, err := powerDialer()
	if err != nil {
		return err
	}

	sensors := sensor.New(sensor.Config{
		Dial:         sensorDial,
		ProbeAddress: exp.MainChannel,
		Logger:       logger,
	})
	supply := power.New(power.Config{
		Dial:   powerDial,
		Logger: logger,
	})

	logger.Info("starting experiment",
		"name", exp.Name,
		"sensors", sensorInfo,
		"power", powerInfo,
		"target_celsius", exp.TargetCelsius)

	loop := control.New(sensors, supply, opts, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := loop.Start(ctx); err != nil {
		return err
	}

	if window := exp.RunWindow(); window > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(window):
			logger.Info("configured duration elapsed", "duration", exp.Duration())
		}
	} else {
		<-ctx.Done()
	}

	loop.Stop()

	rec := loop.Record()
	if rec == nil || rec.Len() == 0 {
		logger.Warn("no rows recorded, skipping archive")
		return nil
	}

	path := runArchivePath
	if path == "" {
		path = fmt.Sprintf("run-%s.cbor", rec.Started().Format("20060102-150405"))
	}
	if err := rec.WriteArchiveFile(path); err != nil {
		return fmt.Errorf("archiving run record: %w", err)
	}

	fmt.Printf("Recorded %d rows over %s, archived to %s\n",
		rec.Len(), time.Since(rec.Started()).Round(time.Second), path)
	return nil
}
