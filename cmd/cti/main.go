// Command cti is an interactive/manual driver for the core library, for use
// during development and support. The public API is a Go library; this
// binary just exercises it from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/common-tools-interface/cti/shared/cliconfig"
	"github.com/common-tools-interface/cti/shared/logger"
)

func main() {
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "cti: logger init: %v\n", err)
		os.Exit(1)
	}

	global := &cmdGlobal{}

	app := &cobra.Command{
		Use:               "cti",
		Short:             "Drive the Common Tools Interface core from the command line",
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		PersistentPreRunE: global.preRun,
	}

	app.PersistentFlags().BoolVarP(&global.flagQuiet, "quiet", "q", false, "Suppress progress output")
	app.PersistentFlags().BoolVar(&global.flagDebug, "debug", false, "Enable debug logging")
	app.PersistentFlags().StringVar(&global.flagConfigDir, "config", "", "Path to the CTI config directory")

	app.AddCommand((&cmdLaunch{global: global}).Command())
	app.AddCommand((&cmdSession{global: global}).Command())
	app.AddCommand((&cmdManifest{global: global}).Command())
	app.AddCommand((&cmdDaemon{global: global}).Command())
	app.AddCommand((&cmdKill{global: global}).Command())
	app.AddCommand((&cmdStatus{global: global}).Command())

	if err := app.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// cmdGlobal holds the flags and lazily-built handles every subcommand shares.
type cmdGlobal struct {
	flagQuiet     bool
	flagDebug     bool
	flagConfigDir string

	conf *cliconfig.Config
}

func (g *cmdGlobal) preRun(cmd *cobra.Command, args []string) error {
	dir := g.flagConfigDir
	if dir == "" {
		dir = cliconfig.DefaultDir()
	}

	conf, err := cliconfig.Load(dir)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", dir, err)
	}

	g.conf = conf

	if g.flagDebug {
		os.Setenv("CTI_DEBUG", "1")
	}

	return nil
}
