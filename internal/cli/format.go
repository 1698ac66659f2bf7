package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// formatCmd is alarm format.
func formatCmd() *cobra.Command {
	return &cobra.Command{
		GroupID: "storage",
		Use:     "format <profile>",
		Short:   "Create the configured file systems on all partitions",
		Long: `Create the configured file systems on all partitions.

Partitions which already carry the configured file system are only
reformatted after confirmation.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return formatImpl.run(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

type formatImplConfig struct{}

var formatImpl formatImplConfig

func (r *formatImplConfig) run(ctx context.Context, profile string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := orchestrator(profile, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	return o.Format(ctx)
}
