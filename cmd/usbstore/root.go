package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ardnew/usbstore/host"
	"github.com/ardnew/usbstore/host/backend/bootrecord"
	"github.com/ardnew/usbstore/host/hal"
	"github.com/ardnew/usbstore/pkg"
	"github.com/ardnew/usbstore/pkg/usbid"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	logLevel   string
	logFormat  string
	timeout    time.Duration
	mountFlags string
	max        int
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "usbstore",
		Short:         "Inspect USB mass-storage volumes",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.configureLogging()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-command transfer timeout")
	flags.StringVar(&opts.mountFlags, "mount-flags", host.DefaultMountFlags.String(),
		"comma-separated mount flags (ignore-case, show-hidden, show-system, read-only, replay-journal, ignore-hibernation)")
	flags.IntVar(&opts.max, "max", 32, "maximum number of volumes to list")

	cmd.AddCommand(
		newListCommand(opts),
		newWatchCommand(opts),
		newImageCommand(opts),
	)
	return cmd
}

// configureLogging applies --log-level and --log-format.
func (o *rootOptions) configureLogging() error {
	level, err := pkg.ParseLogLevel(o.logLevel)
	if err != nil {
		return err
	}
	format, err := pkg.ParseLogFormat(o.logFormat)
	if err != nil {
		return err
	}
	pkg.SetLogFormat(format)
	pkg.SetLogLevel(level)
	return nil
}

// managerOptions builds manager options from the persistent flags.
func (o *rootOptions) managerOptions() (host.Options, error) {
	flags, err := host.ParseMountFlags(o.mountFlags)
	if err != nil {
		return host.Options{}, err
	}
	if o.max < 1 {
		return host.Options{}, fmt.Errorf("--max %d: %w", o.max, pkg.ErrInvalidParameter)
	}

	opts := host.DefaultOptions()
	opts.Timeout = o.timeout
	opts.MountFlags = flags
	opts.Backends = bootrecord.All()
	opts.IDs = usbid.New()
	return opts, nil
}

// start creates a manager over h and runs the initial enumeration.
func (o *rootOptions) start(ctx context.Context, h hal.HostHAL) (*host.Manager, error) {
	opts, err := o.managerOptions()
	if err != nil {
		return nil, err
	}
	m := host.New(h, opts)
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// writeVolumes prints vols as a table.
func writeVolumes(w io.Writer, vols []host.VolumeInfo) error {
	if len(vols) == 0 {
		_, err := fmt.Fprintln(w, "no volumes mounted")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tSIZE\tDEVICE\tLUN\tPART\tVENDOR\tPRODUCT\tSERIAL\tFLAGS")
	for _, v := range vols {
		flags := v.Flags.String()
		if v.WriteProtected {
			flags += " (write-protected)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%04x:%04x\t%d\t%d\t%s\t%s\t%s\t%s\n",
			v.Name,
			v.Type,
			humanize.IBytes(v.Capacity),
			v.VendorID, v.ProductID,
			v.LUN,
			v.Index,
			v.Vendor,
			v.Product,
			v.Serial,
			flags)
	}
	return tw.Flush()
}
