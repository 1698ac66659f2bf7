package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// deviceCmd is alarm device, which (only) has nested commands.
func deviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		GroupID: "storage",
		Use:     "device",
		Short:   "Prepare a physical storage device such as an SD card",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}
	cmd.AddCommand(deviceInitCmd())
	return cmd
}

// deviceInitCmd is alarm device init.
func deviceInitCmd() *cobra.Command {
	impl := &deviceInitImplConfig{}
	cmd := &cobra.Command{
		Use:   "init <profile>",
		Short: "Write a new partition table to the storage device",
		Long: `Write a new partition table to the storage device of the profile
(storage.device), erasing all data on it.

Mounted partitions are unmounted first (after confirmation). When the
device has contents, alarm asks before erasing it unless --force is given.

Examples:
  # Partition the SD card /dev/sdx as configured in profiles/sdcard.yml:
  % alarm device init sdcard
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVarP(&impl.force, "force", "", false, "do not ask before erasing a device which has contents")
	return cmd
}

type deviceInitImplConfig struct {
	force bool
}

func (r *deviceInitImplConfig) run(ctx context.Context, profile string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := orchestrator(profile, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	return o.DeviceInit(ctx, r.force)
}
