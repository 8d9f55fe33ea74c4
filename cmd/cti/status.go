package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/fvbommel/sortorder"
	"github.com/mattn/go-colorable"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/common-tools-interface/cti"
)

type cmdStatus struct {
	global *cmdGlobal
}

func (c *cmdStatus) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "status <app-id> [app-id...]",
		Short: "Show host placement and binaries for one or more Apps",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.Run,
	}
}

func (c *cmdStatus) Run(cmd *cobra.Command, args []string) error {
	h, err := cti.Open()
	if err != nil {
		return err
	}

	// Box-drawing and ANSI color only help on an interactive terminal; a
	// piped or redirected stdout gets plain tab-separated rows instead.
	var out io.Writer = os.Stdout
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	if interactive {
		out = colorable.NewColorableStdout()
	}

	for _, arg := range args {
		appID, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid app id %q: %w", arg, err)
		}

		id := cti.AppID(appID)

		if !h.AppIsValid(id) {
			fmt.Fprintf(out, "app %d: not valid\n", id)
			continue
		}

		if err := c.printApp(out, h, id, interactive); err != nil {
			return err
		}
	}

	return nil
}

func (c *cmdStatus) printApp(out io.Writer, h *cti.CTI, id cti.AppID, interactive bool) error {
	hostname, err := h.GetLauncherHostname(id)
	if err != nil {
		return err
	}

	numPEs, err := h.GetNumAppPEs(id)
	if err != nil {
		return err
	}

	binaries, err := h.GetAppBinaryList(id)
	if err != nil {
		return err
	}

	placement, err := h.GetAppHostsPlacement(id)
	if err != nil {
		return err
	}

	sort.Slice(placement, func(i, j int) bool {
		return sortorder.NaturalLess(placement[i].Hostname, placement[j].Hostname)
	})

	fmt.Fprintf(out, "app %d: launcher=%s pes=%d binaries=%v\n", id, hostname, numPEs, binaries)

	if !interactive {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HOST\tPES\tFIRST PE")
		for _, p := range placement {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", p.Hostname, p.NumPEs, p.FirstPE)
		}
		return tw.Flush()
	}

	table := tablewriter.NewWriter(out)
	table.Header("Host", "PEs", "First PE")

	for _, p := range placement {
		_ = table.Append(p.Hostname, strconv.Itoa(p.NumPEs), strconv.Itoa(p.FirstPE))
	}

	return table.Render()
}
