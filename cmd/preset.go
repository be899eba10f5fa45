// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Tangzhuhan

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Tangzhuhan/PIDCON/pkg/config"
)

var presetStorePath string

var presetCmd = &cobra.Command{
	Use:   "preset",
	Short: "Manage named experiment presets",
	Long: `Manage the preset store, a YAML file of named experiment
configurations. Presets capture known-good parameter sets per sample
material so a run is started by name instead of by hand-edited config.`,
}

var presetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored presets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := config.NewPresetStore(presetStorePath).List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No presets stored")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var presetShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a preset as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exp, err := config.NewPresetStore(presetStorePath).Get(args[0])
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(exp)
		if err != nil {
			return err
		}
		os.Stdout.Write(data)
		return nil
	},
}

var presetSaveCmd = &cobra.Command{
	Use:   "save <name> <config-file>",
	Short: "Store a config file as a named preset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		exp, err := config.Load(args[1])
		if err != nil {
			return err
		}
		if err := exp.ControlOptions().Validate(); err != nil {
			return fmt.Errorf("config %s: %w", args[1], err)
		}
		if err := config.NewPresetStore(presetStorePath).Put(args[0], exp); err != nil {
			return err
		}
		fmt.Printf("Saved preset %q\n", args[0])
		return nil
	},
}

var presetDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.NewPresetStore(presetStorePath).Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted preset %q\n", args[0])
		return nil
	},
}

func init() {
	presetCmd.PersistentFlags().StringVar(&presetStorePath, "presets", "presets.yaml", "Preset store file")
	presetCmd.AddCommand(presetListCmd, presetShowCmd, presetSaveCmd, presetDeleteCmd)
	rootCmd.AddCommand(presetCmd)
}
