package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/common-tools-interface/cti"
)

type cmdDaemon struct {
	global *cmdGlobal
}

func (c *cmdDaemon) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Spawn tool daemons into a Session's sandbox",
	}

	cmd.AddCommand((&cmdDaemonExec{global: c.global}).Command())

	return cmd
}

type cmdDaemonExec struct {
	global *cmdGlobal

	flagEnv   []string
	flagAsync bool
}

func (c *cmdDaemonExec) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <session-id> <binary> [args...]",
		Short: "Execute a shipped binary as a tool daemon on every node of a Session's App",
		Args:  cobra.MinimumNArgs(2),
		RunE:  c.Run,
	}

	cmd.Flags().StringArrayVarP(&c.flagEnv, "env", "e", nil, "Extra KEY=VALUE environment entries for the daemon")
	cmd.Flags().BoolVar(&c.flagAsync, "async", false, "Don't wait for the daemon to start on every node before returning")

	return cmd
}

func (c *cmdDaemonExec) Run(cmd *cobra.Command, args []string) error {
	sessionID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", args[0], err)
	}

	binary := args[1]
	argv := args[2:]

	h, err := cti.Open()
	if err != nil {
		return err
	}

	synchrony := cti.Sync
	if c.flagAsync {
		synchrony = cti.Async
	}

	daemonIDs, err := h.ExecToolDaemon(context.Background(), cti.SessionID(sessionID), binary, argv, c.flagEnv, synchrony)
	if err != nil {
		return fmt.Errorf("exec tool daemon: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(daemonIDs, "\n"))

	return nil
}
