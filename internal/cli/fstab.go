package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// fstabCmd is alarm fstab.
func fstabCmd() *cobra.Command {
	return &cobra.Command{
		GroupID: "payload",
		Use:     "fstab <profile>",
		Short:   "Rewrite /etc/fstab of the installed system for the target hardware",
		Long: `Rewrite /etc/fstab of the installed system so that it mounts the
partitions by their device names on the target hardware
(storage.internal_device, e.g. /dev/mmcblk0).

The previous file is kept next to it with a timestamp suffix.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fstabImpl.run(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

type fstabImplConfig struct{}

var fstabImpl fstabImplConfig

func (r *fstabImplConfig) run(ctx context.Context, profile string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := orchestrator(profile, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	return o.RewriteFstab(ctx)
}
