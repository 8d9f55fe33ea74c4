package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/common-tools-interface/cti"
)

type cmdManifest struct {
	global *cmdGlobal
}

func (c *cmdManifest) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Build and ship a Manifest of files into a Session's sandbox",
	}

	cmd.AddCommand((&cmdManifestCreate{global: c.global}).Command())
	cmd.AddCommand((&cmdManifestAdd{global: c.global}).Command())
	cmd.AddCommand((&cmdManifestSend{global: c.global}).Command())

	return cmd
}

type cmdManifestCreate struct {
	global *cmdGlobal
}

func (c *cmdManifestCreate) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "create <session-id>",
		Short: "Open a new Manifest under a Session",
		Args:  cobra.ExactArgs(1),
		RunE:  c.Run,
	}
}

func (c *cmdManifestCreate) Run(cmd *cobra.Command, args []string) error {
	sessionID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", args[0], err)
	}

	h, err := cti.Open()
	if err != nil {
		return err
	}

	id, err := h.CreateManifest(cti.SessionID(sessionID))
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "manifest %d\n", id)

	return nil
}

type cmdManifestAdd struct {
	global *cmdGlobal

	flagKind       string
	flagIgnoreDeps bool
}

func (c *cmdManifestAdd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <manifest-id> <path>",
		Short: "Stage a binary, library, library directory, or data file into a Manifest",
		Args:  cobra.ExactArgs(2),
		RunE:  c.Run,
	}

	cmd.Flags().StringVar(&c.flagKind, "kind", "file", `What kind of path this is: "binary", "library", "library-dir", or "file"`)
	cmd.Flags().BoolVar(&c.flagIgnoreDeps, "ignore-deps", false, "Skip walking ELF dependencies for binary/library")

	return cmd
}

func (c *cmdManifestAdd) Run(cmd *cobra.Command, args []string) error {
	manifestID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid manifest id %q: %w", args[0], err)
	}

	path := args[1]

	h, err := cti.Open()
	if err != nil {
		return err
	}

	policy := cti.DepsStage
	if c.flagIgnoreDeps {
		policy = cti.DepsIgnore
	}

	id := cti.ManifestID(manifestID)

	switch c.flagKind {
	case "binary":
		err = h.AddManifestBinary(id, path, policy)
	case "library":
		err = h.AddManifestLibrary(id, path, policy)
	case "library-dir":
		err = h.AddManifestLibraryDir(id, path)
	case "file":
		err = h.AddManifestFile(id, path)
	default:
		return fmt.Errorf(`invalid --kind %q: want "binary", "library", "library-dir", or "file"`, c.flagKind)
	}

	if err != nil {
		return fmt.Errorf("add %s: %w", c.flagKind, err)
	}

	return nil
}

type cmdManifestSend struct {
	global *cmdGlobal
}

func (c *cmdManifestSend) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "send <manifest-id>",
		Short: "Archive and ship a Manifest's contents to every node of its Session's App",
		Args:  cobra.ExactArgs(1),
		RunE:  c.Run,
	}
}

func (c *cmdManifestSend) Run(cmd *cobra.Command, args []string) error {
	manifestID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid manifest id %q: %w", args[0], err)
	}

	h, err := cti.Open()
	if err != nil {
		return err
	}

	if err := h.SendManifest(context.Background(), cti.ManifestID(manifestID)); err != nil {
		return fmt.Errorf("send manifest: %w", err)
	}

	return nil
}
