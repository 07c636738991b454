package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gokernel/core/cfg"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
)

var rootCmd = &cobra.Command{
	Use:   "kerneld",
	Short: "Boot, check, or run the simulated microkernel",
	Long: `kerneld drives the gokernel core: a hierarchical fair scheduler,
a write-ahead-logged block cache, and an inode-based process/container
lifecycle, all running in-process as a simulator rather than on real
hardware.`,
}

// loadConfig resolves the final Config from flags/env/config-file,
// mirroring the teacher's bindErr/configFileErr/unmarshalErr deferred
// validation and cobra.OnInitialize pattern (cmd/root.go).
func loadConfig() (*cfg.Config, error) {
	if bindErr != nil {
		return nil, bindErr
	}
	if configFileErr != nil {
		return nil, configFileErr
	}
	return cfg.FromViper(viper.GetViper())
}

// Execute runs the root command, matching the teacher's top-level
// error-to-stderr-then-exit(1) convention.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(bootCmd)
	rootCmd.AddCommand(fsckCmd)
	rootCmd.AddCommand(runCmd)
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
	}
}
