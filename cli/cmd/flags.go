// Package cmd provides CLI commands for the labelreader binary.
package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/edgeorder/labelreader/cli/config"
)

// Exit codes.
const (
	exitSuccess     = 0
	exitFatal       = 1
	exitConfigError = 2
	exitWorkerCrash = 3
)

// Global flags. They are read from every subcommand and forwarded to
// worker processes by the supervisor.
var (
	// ConfigFlag points at the YAML configuration file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML configuration file",
		Value:   "labelreader.yaml",
		EnvVars: []string{"LABELREADER_CONFIG"},
	}

	// EnvFileFlag points at an optional .env file loaded before the config.
	EnvFileFlag = &cli.StringFlag{
		Name:    "env-file",
		Usage:   "Path to a .env file loaded before config expansion",
		Value:   ".env",
		EnvVars: []string{"LABELREADER_ENV_FILE"},
	}
)

// GlobalFlags returns the app-level flags.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{ConfigFlag, EnvFileFlag}
}

// workerArgs are the global flags a worker process is started with.
func workerArgs(c *cli.Context) []string {
	return []string{
		"--" + ConfigFlag.Name, c.String(ConfigFlag.Name),
		"--" + EnvFileFlag.Name, c.String(EnvFileFlag.Name),
	}
}

// loadConfig loads and validates the configuration named by the global
// flags. Failures carry the configuration exit code.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(c.String(EnvFileFlag.Name)); err != nil {
		return nil, cli.Exit(err.Error(), exitConfigError)
	}
	cfg, err := config.Load(c.String(ConfigFlag.Name))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfigError)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
	}
	return cfg, nil
}
