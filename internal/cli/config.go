package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// configCmd is alarm config, which (only) has nested commands.
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		GroupID: "profile",
		Use:     "config",
		Short:   "Inspect the effective configuration of a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}
	cmd.AddCommand(configDumpCmd())
	cmd.AddCommand(configGetCmd())
	return cmd
}

// configDumpCmd is alarm config dump.
func configDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <profile>",
		Short: "Print the profile, with its override file applied, as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return configDumpImpl.run(cmd.Context(), args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

type configDumpImplConfig struct{}

var configDumpImpl configDumpImplConfig

func (r *configDumpImplConfig) run(ctx context.Context, profile string, stdout, stderr io.Writer) error {
	p, err := loadProfile(profile)
	if err != nil {
		return err
	}
	b, err := p.Dump()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "# profile %s\n", p.Name)
	for _, fn := range p.Files {
		fmt.Fprintf(stdout, "# read from %s\n", fn)
	}
	_, err = stdout.Write(b)
	return err
}

// configGetCmd is alarm config get.
func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <profile> <key>",
		Short: "Print one value of the profile, e.g. storage.image_file.name",
		Long: `Print one value of the profile.

Keys are dotted paths into the profile. Mappings are printed as YAML.

Examples:
  % alarm config get rpi4 storage.partitions.boot.mountpoint
  mnt/boot
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return configGetImpl.run(cmd.Context(), args[0], args[1], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

type configGetImplConfig struct{}

var configGetImpl configGetImplConfig

func (r *configGetImplConfig) run(ctx context.Context, profile, key string, stdout, stderr io.Writer) error {
	p, err := loadProfile(profile)
	if err != nil {
		return err
	}
	val, ok := p.Get(key)
	if !ok {
		return fmt.Errorf("profile %s: key %s not set", profile, key)
	}
	fmt.Fprintln(stdout, val)
	return nil
}
