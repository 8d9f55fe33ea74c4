package main

import (
	"context"
	"fmt"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/common-tools-interface/cti"
)

type cmdKill struct {
	global *cmdGlobal

	flagSignal int
}

func (c *cmdKill) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill <app-id>",
		Short: "Send a signal to every process of an App",
		Args:  cobra.ExactArgs(1),
		RunE:  c.Run,
	}

	cmd.Flags().IntVarP(&c.flagSignal, "signal", "s", int(syscall.SIGTERM), "Signal number to send")

	return cmd
}

func (c *cmdKill) Run(cmd *cobra.Command, args []string) error {
	appID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid app id %q: %w", args[0], err)
	}

	h, err := cti.Open()
	if err != nil {
		return err
	}

	if err := h.KillApp(context.Background(), cti.AppID(appID), c.flagSignal); err != nil {
		return fmt.Errorf("kill app: %w", err)
	}

	return nil
}
