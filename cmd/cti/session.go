package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/common-tools-interface/cti"
)

type cmdSession struct {
	global *cmdGlobal
}

func (c *cmdSession) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create and destroy staging Sessions",
	}

	cmd.AddCommand((&cmdSessionCreate{global: c.global}).Command())
	cmd.AddCommand((&cmdSessionDestroy{global: c.global}).Command())

	return cmd
}

type cmdSessionCreate struct {
	global *cmdGlobal
}

func (c *cmdSessionCreate) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "create <app-id>",
		Short: "Create a Session scoped to an App",
		Args:  cobra.ExactArgs(1),
		RunE:  c.Run,
	}
}

func (c *cmdSessionCreate) Run(cmd *cobra.Command, args []string) error {
	appID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid app id %q: %w", args[0], err)
	}

	h, err := cti.Open()
	if err != nil {
		return err
	}

	id, err := h.CreateSession(cti.AppID(appID))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "session %d\n", id)

	return nil
}

type cmdSessionDestroy struct {
	global *cmdGlobal
}

func (c *cmdSessionDestroy) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <session-id>",
		Short: "Destroy a Session and sweep its tool daemons",
		Args:  cobra.ExactArgs(1),
		RunE:  c.Run,
	}
}

func (c *cmdSessionDestroy) Run(cmd *cobra.Command, args []string) error {
	sessionID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", args[0], err)
	}

	h, err := cti.Open()
	if err != nil {
		return err
	}

	if err := h.DestroySession(context.Background(), cti.SessionID(sessionID)); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}

	return nil
}
