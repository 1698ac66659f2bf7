package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// installCmd is alarm install.
func installCmd() *cobra.Command {
	impl := &installImplConfig{}
	cmd := &cobra.Command{
		GroupID: "payload",
		Use:     "install <profile>",
		Short:   "Extract the downloaded archive onto the mounted partitions",
		Long: `Extract the downloaded archive onto the mounted partitions.

The archive is extracted into the root partition, and the contents of
the other partitions (e.g. /boot) are moved onto them. Run alarm mount
and alarm download first.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVarP(&impl.force, "force", "", false, "extract into mountpoints which are not empty without asking")
	return cmd
}

type installImplConfig struct {
	force bool
}

func (r *installImplConfig) run(ctx context.Context, profile string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := orchestrator(profile, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	return o.InstallPayload(ctx, o.ArchivePath(), r.force)
}
