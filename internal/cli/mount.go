package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// mountCmd is alarm mount.
func mountCmd() *cobra.Command {
	return &cobra.Command{
		GroupID: "storage",
		Use:     "mount <profile>",
		Short:   "Mount all partitions at their configured mountpoints",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mountImpl.run(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

type mountImplConfig struct{}

var mountImpl mountImplConfig

func (r *mountImplConfig) run(ctx context.Context, profile string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := orchestrator(profile, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	return o.Mount(ctx)
}

// unmountCmd is alarm unmount.
func unmountCmd() *cobra.Command {
	return &cobra.Command{
		GroupID: "storage",
		Use:     "unmount <profile> [partition]",
		Short:   "Unmount one partition, or all partitions of the profile",
		Long: `Unmount one partition, or all partitions of the profile.

The partition is either the name of a configured partition (e.g. boot) or
a block device path (e.g. /dev/loop0p1). Without a partition, this is
the same as alarm cleanup, except that image files stay attached.

Examples:
  % alarm unmount rpi4 boot
  % alarm unmount rpi4 /dev/sdx2
`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return unmountImpl.run(cmd.Context(), args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

type unmountImplConfig struct{}

var unmountImpl unmountImplConfig

func (r *unmountImplConfig) run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := orchestrator(args[0], stdin, stdout, stderr)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		return o.UnmountAll(ctx)
	}
	return o.UnmountPartition(ctx, args[1])
}

// cleanupCmd is alarm cleanup.
func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		GroupID: "storage",
		Use:     "cleanup <profile>",
		Short:   "Unmount all partitions and detach the image file",
		Long: `Unmount all partitions and, for image files, detach the loop device.

Safe to run at any time, including after a failed build.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cleanupImpl.run(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

type cleanupImplConfig struct{}

var cleanupImpl cleanupImplConfig

func (r *cleanupImplConfig) run(ctx context.Context, profile string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := orchestrator(profile, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	return o.Cleanup(ctx)
}
