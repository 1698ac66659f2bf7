package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/alarmpi/tools/internal/payload"
)

// downloadCmd is alarm download.
func downloadCmd() *cobra.Command {
	impl := &downloadImplConfig{}
	cmd := &cobra.Command{
		GroupID: "payload",
		Use:     "download <profile>",
		Short:   "Download the Arch Linux ARM archive of the profile",
		Long: `Download the Arch Linux ARM archive of the profile (alarm_image.url)
to alarm_image.filename.

The archive is verified against alarm_image.md5 when configured, or
against the .md5 file published next to it.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVarP(&impl.force, "force", "", false, "download even if the archive exists")
	return cmd
}

type downloadImplConfig struct {
	force bool
}

func (r *downloadImplConfig) run(ctx context.Context, profile string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := orchestrator(profile, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	return o.Download(ctx, &payload.Downloader{}, r.force)
}
