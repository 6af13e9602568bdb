package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbstore/host/hal/sim"
	"github.com/ardnew/usbstore/pkg"
)

// imageOptions holds the flags of the image command.
type imageOptions struct {
	blockSize  uint32
	readOnly   bool
	fault      string
	faultCount int
}

func newImageCommand(root *rootOptions) *cobra.Command {
	opts := &imageOptions{}

	cmd := &cobra.Command{
		Use:   "image FILE[+FILE...]...",
		Short: "List volumes on disk images attached to a simulated bus",
		Long: `Attaches each argument as a simulated USB drive. Images joined with '+'
become the logical units of one drive.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.blockSize == 0 || opts.blockSize%512 != 0 {
				return fmt.Errorf("--block-size %d: %w", opts.blockSize, pkg.ErrInvalidParameter)
			}
			fault := sim.FaultNone
			if opts.fault != "" {
				var ok bool
				if fault, ok = sim.ParseFault(opts.fault); !ok {
					return fmt.Errorf("unknown fault %q: %w", opts.fault, pkg.ErrInvalidParameter)
				}
			}

			bus := sim.New()
			var files []*sim.FileStorage
			defer func() {
				for _, f := range files {
					f.Close()
				}
			}()

			for i, arg := range args {
				var storages []sim.Storage
				for _, path := range strings.Split(arg, "+") {
					f, err := sim.NewFileStorage(path, opts.blockSize, opts.readOnly)
					if err != nil {
						return err
					}
					files = append(files, f)
					storages = append(storages, f)
				}
				d := sim.NewDisk(sim.DiskConfig{
					VendorID:  0x1d6b,
					ProductID: 0x0104,
					Product:   fmt.Sprintf("Image Drive %d", i),
					Serial:    fmt.Sprintf("IMG%05d", i),
					Vendor:    "usbstore",
					Model:     "Disk Image",
					Revision:  "1.0",
				}, storages...)
				if fault != sim.FaultNone {
					d.Inject(fault, opts.faultCount)
				}
				bus.Attach(d)
			}

			m, err := root.start(cmd.Context(), bus)
			if err != nil {
				return err
			}
			vols := m.ListMountedVolumes(root.max)
			return errors.Join(writeVolumes(cmd.OutOrStdout(), vols), m.Shutdown())
		},
	}

	flags := cmd.Flags()
	flags.Uint32Var(&opts.blockSize, "block-size", 512, "logical block size of the images")
	flags.BoolVar(&opts.readOnly, "read-only", true, "open images read-only and report them write-protected")
	flags.StringVar(&opts.fault, "fault", "", "fault to inject into every drive (stall-command, stall-status, timeout, bad-signature, bad-tag, short-data, phase-error)")
	flags.IntVar(&opts.faultCount, "fault-count", 1, "number of times the fault fires")
	return cmd
}
