package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/john/monox_bridge/printer"
	"github.com/john/monox_bridge/uartwifi"
)

func newDiscoverCmd() *cobra.Command {
	var (
		subnets []string
		timeout time.Duration
		workers int
		port    int
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Scan the local network for printers answering sysinfo",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(subnets) == 0 {
				local, err := printer.LocalSubnets()
				if err != nil {
					return errors.Wrap(err, "list local subnets")
				}
				subnets = local
			}
			return discover(cmd.Context(), cmd.OutOrStdout(), subnets, port, timeout, workers)
		},
	}
	cmd.Flags().StringSliceVar(&subnets, "subnet", nil, "IPv4 subnet(s) to scan, default: local /24s")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "per-host probe timeout")
	cmd.Flags().IntVar(&workers, "workers", 64, "concurrent probes")
	cmd.Flags().IntVar(&port, "port", uartwifi.Port, "uart-wifi TCP port")
	return cmd
}

func discover(ctx context.Context, out io.Writer, subnets []string, port int, timeout time.Duration, workers int) error {
	var hosts []string
	for _, s := range subnets {
		h, err := printer.SubnetHosts(s)
		if err != nil {
			return err
		}
		hosts = append(hosts, h...)
	}
	if len(hosts) == 0 {
		return errors.New("no subnets to scan")
	}

	log.Info().Strs("subnets", subnets).Int("hosts", len(hosts)).Msg("discovering printers")
	found := printer.Discover(ctx, hosts, port, timeout, workers)
	if len(found) == 0 {
		fmt.Fprintln(out, "No printers found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tMODEL\tFIRMWARE\tSERIAL")
	for _, p := range found {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Host, p.Model, p.Firmware, p.Serial)
	}
	return w.Flush()
}
