package main

import (
	"github.com/spf13/cobra"
)

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List volumes on attached USB drives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newSystemHAL(opts.timeout)
			if err != nil {
				return err
			}
			m, err := opts.start(cmd.Context(), h)
			if err != nil {
				return err
			}
			defer m.Shutdown()

			return writeVolumes(cmd.OutOrStdout(), m.ListMountedVolumes(opts.max))
		},
	}
}
