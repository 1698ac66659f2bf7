package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/alarmpi/tools/internal/payload"
	"github.com/alarmpi/tools/internal/provision"
)

// buildCmd is alarm build.
func buildCmd() *cobra.Command {
	impl := &buildImplConfig{}
	cmd := &cobra.Command{
		GroupID: "build",
		Use:     "build <profile>",
		Short:   "Build a complete Arch Linux ARM installation",
		Long: `Build a complete Arch Linux ARM installation.

Checks the requirements, creates (or partitions) the storage target,
formats and mounts its partitions, downloads and installs Arch Linux ARM
and rewrites /etc/fstab for the target hardware.

A build which failed half-way can be resumed by running it again: steps
which are already done are detected and skipped (or confirmed).

Examples:
  # Build an image file as described by profiles/rpi4.yml:
  % alarm build rpi4

  # …same, but without questions, detaching the image when done:
  % alarm -n build --cleanup rpi4
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVarP(&impl.overwriteTarget, "overwrite_target", "", false, "recreate an existing image file, or partition a device which is not empty, without asking")
	cmd.Flags().BoolVarP(&impl.forceDownload, "force_download", "", false, "download the Arch Linux ARM archive even if it was downloaded before")
	cmd.Flags().BoolVarP(&impl.forceExtract, "force_extract", "", false, "extract into mountpoints which are not empty without asking")
	cmd.Flags().BoolVarP(&impl.cleanup, "cleanup", "", false, "unmount all partitions (and detach the image file) when done")
	return cmd
}

type buildImplConfig struct {
	overwriteTarget bool
	forceDownload   bool
	forceExtract    bool
	cleanup         bool
}

func (r *buildImplConfig) run(ctx context.Context, profile string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := orchestrator(profile, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	return o.Build(ctx, provision.BuildOptions{
		OverwriteTarget: r.overwriteTarget,
		ForceDownload:   r.forceDownload,
		ForceExtract:    r.forceExtract,
		Cleanup:         r.cleanup,
		Downloader:      &payload.Downloader{},
	})
}
