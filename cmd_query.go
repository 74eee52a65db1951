package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/john/monox_bridge/printer"
	"github.com/john/monox_bridge/uartwifi"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query the printer status once and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(rootConfigPath)
			if err != nil {
				return err
			}
			return queryStatus(cmd.Context(), cmd.OutOrStdout(), cfg, newAdapter(cfg))
		},
	}
}

func newSysInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sysinfo",
		Short: "Query the printer identity once and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(rootConfigPath)
			if err != nil {
				return err
			}
			return querySysInfo(cmd.Context(), cmd.OutOrStdout(), cfg, newAdapter(cfg))
		},
	}
}

func newAdapter(cfg *Config) *printer.Adapter {
	return printer.NewAdapter(uartwifi.NewClient(cfg.Printer.Host, cfg.Printer.Port, cfg.Printer.Timeout))
}

// oneShot is the adapter surface the one-shot commands need.
type oneShot interface {
	QueryStatus(ctx context.Context, opts printer.StatusOptions) (*uartwifi.Status, printer.Extras, error)
	QuerySysInfo(ctx context.Context) (*uartwifi.SysInfo, error)
}

func queryStatus(ctx context.Context, out io.Writer, cfg *Config, p oneShot) error {
	policy, err := cfg.UnitPolicy()
	if err != nil {
		return err
	}

	opts := printer.StatusOptions{Policy: policy, NoExtras: cfg.Printer.NoExtras}
	// The model policy needs the identity; a failure here only disables conversion.
	if policy.Name() == printer.PolicyModel {
		if info, err := p.QuerySysInfo(ctx); err == nil {
			opts.SysInfo = info
		}
	}

	st, extras, err := p.QueryStatus(ctx, opts)
	if err != nil {
		return err
	}

	status, _ := st.Status.Get()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Status\t%s\n", status)
	for _, sensor := range printer.Catalog() {
		v, ok := extras[sensor.Key]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", sensor.Label, formatValue(v, sensor.Unit))
	}
	return w.Flush()
}

func querySysInfo(ctx context.Context, out io.Writer, cfg *Config, p oneShot) error {
	info, err := p.QuerySysInfo(ctx)
	if err != nil {
		return err
	}
	policy, err := cfg.UnitPolicy()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Model\t%s\n", info.Model)
	fmt.Fprintf(w, "Firmware\t%s\n", info.Firmware)
	fmt.Fprintf(w, "Serial\t%s\n", info.Serial)
	fmt.Fprintf(w, "Wi-Fi\t%s\n", info.Wifi)
	fmt.Fprintf(w, "Unit policy\t%s\n", policy.Name())
	if mp, ok := policy.(printer.ModelMarkerPolicy); ok {
		fmt.Fprintf(w, "Remaining time in seconds\t%t\n", mp.ConvertToSeconds(info, nil))
	}
	return w.Flush()
}

func formatValue(v any, unit string) string {
	if v == nil {
		return "-"
	}
	if unit == "" {
		return fmt.Sprint(v)
	}
	return fmt.Sprintf("%v %s", v, unit)
}
