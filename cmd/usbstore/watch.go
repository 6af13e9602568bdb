package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ardnew/usbstore/host"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print volumes whenever drives are attached or removed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := newSystemHAL(opts.timeout)
			if err != nil {
				return err
			}
			m, err := opts.start(ctx, h)
			if err != nil {
				return err
			}
			defer m.Shutdown()

			return watch(ctx, cmd, m, opts.max)
		},
	}
}

// watch prints the volume table now and after every status change until ctx
// is done.
func watch(ctx context.Context, cmd *cobra.Command, m *host.Manager, limit int) error {
	out := cmd.OutOrStdout()
	for {
		fmt.Fprintf(out, "%d drive(s), %d volume(s)\n", m.PhysicalDeviceCount(), m.MountedVolumeCount())
		if err := writeVolumes(out, m.ListMountedVolumes(limit)); err != nil {
			return err
		}

		err := m.WaitStatusChange(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
