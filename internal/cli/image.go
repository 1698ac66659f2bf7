package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// imageCmd is alarm image, which (only) has nested commands.
func imageCmd() *cobra.Command {
	cmd := &cobra.Command{
		GroupID: "storage",
		Use:     "image",
		Short:   "Create image files and attach them to loop devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}
	cmd.AddCommand(imageInitCmd())
	cmd.AddCommand(imageAttachCmd())
	cmd.AddCommand(imageDetachCmd())
	return cmd
}

// imageInitCmd is alarm image init.
func imageInitCmd() *cobra.Command {
	impl := &imageInitImplConfig{}
	cmd := &cobra.Command{
		Use:   "init <profile>",
		Short: "Create the image file and its partition table",
		Long: `Create the image file of the profile (storage.image_file) and write
its partition table.

An existing image file is left alone unless --force is given.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return impl.run(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVarP(&impl.force, "force", "", false, "recreate the image file if it exists")
	return cmd
}

type imageInitImplConfig struct {
	force bool
}

func (r *imageInitImplConfig) run(ctx context.Context, profile string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := orchestrator(profile, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	return o.ImageInit(ctx, r.force)
}

// imageAttachCmd is alarm image attach.
func imageAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <profile>",
		Short: "Attach the image file to a loop device, scanning its partitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return imageAttachImpl.run(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

type imageAttachImplConfig struct{}

var imageAttachImpl imageAttachImplConfig

func (r *imageAttachImplConfig) run(ctx context.Context, profile string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := orchestrator(profile, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	return o.LoopMount(ctx)
}

// imageDetachCmd is alarm image detach.
func imageDetachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach <profile>",
		Short: "Unmount the image file's partitions and detach its loop devices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return imageDetachImpl.run(cmd.Context(), args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

type imageDetachImplConfig struct{}

var imageDetachImpl imageDetachImplConfig

func (r *imageDetachImplConfig) run(ctx context.Context, profile string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := orchestrator(profile, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	return o.LoopUnmount(ctx)
}
