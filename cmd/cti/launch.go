package main

import (
	"context"
	"fmt"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
	"k8s.io/utils/ptr"

	"github.com/common-tools-interface/cti"
)

type cmdLaunch struct {
	global *cmdGlobal

	flagBarrier  bool
	flagEnv      []string
	flagStdinFD  int
	flagStdoutFD int
	flagStderrFD int
}

func (c *cmdLaunch) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch <command> [args...]",
		Short: "Launch a parallel job and register it as an App",
		Long: `Launch a parallel job and register it as an App.

The command and its arguments may be given either as separate positional
arguments or as a single shell-quoted string, e.g.:

  cti launch mpirun -n 4 ./a.out --iterations 10
  cti launch "mpirun -n 4 ./a.out --iterations 10"`,
		Args: cobra.MinimumNArgs(1),
		RunE: c.Run,
	}

	cmd.Flags().BoolVar(&c.flagBarrier, "barrier", false, "Hold the job at its startup barrier instead of releasing it immediately")
	cmd.Flags().StringArrayVarP(&c.flagEnv, "env", "e", nil, "Extra KEY=VALUE environment entries for the job")
	cmd.Flags().IntVar(&c.flagStdinFD, "stdin-fd", -1, "Inherited fd to wire up as the job's stdin (-1 leaves it to the driver)")
	cmd.Flags().IntVar(&c.flagStdoutFD, "stdout-fd", -1, "Inherited fd to wire up as the job's stdout (-1 leaves it to the driver)")
	cmd.Flags().IntVar(&c.flagStderrFD, "stderr-fd", -1, "Inherited fd to wire up as the job's stderr (-1 leaves it to the driver)")

	return cmd
}

// launchIO builds a LaunchIO from the --std{in,out,err}-fd flags, leaving a
// field nil (driver-default) when its flag was left at the -1 sentinel.
func (c *cmdLaunch) launchIO() cti.LaunchIO {
	var lio cti.LaunchIO

	if c.flagStdinFD >= 0 {
		lio.Stdin = ptr.To(c.flagStdinFD)
	}

	if c.flagStdoutFD >= 0 {
		lio.Stdout = ptr.To(c.flagStdoutFD)
	}

	if c.flagStderrFD >= 0 {
		lio.Stderr = ptr.To(c.flagStderrFD)
	}

	return lio
}

func (c *cmdLaunch) Run(cmd *cobra.Command, args []string) error {
	argv := args
	if len(args) == 1 && strings.ContainsAny(args[0], " \t") {
		split, err := shellquote.Split(args[0])
		if err != nil {
			return fmt.Errorf("parsing launch command: %w", err)
		}

		argv = split
	}

	h, err := cti.Open()
	if err != nil {
		return err
	}

	barrier := cti.BarrierNone
	if c.flagBarrier {
		barrier = cti.BarrierHold
	}

	id, err := h.Launch(context.Background(), argv, c.flagEnv, c.launchIO(), barrier)
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "app %d\n", id)

	return nil
}
