// Package cli implements the alarm command line, one file per verb.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/alarmpi/tools/internal/profileflag"
	"github.com/alarmpi/tools/internal/version"
)

func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "alarm",
		Short: "provision storage for Arch Linux ARM on a Raspberry Pi",
		Long: `The alarm tool turns an image file or an SD card into a bootable
Arch Linux ARM installation, as described by a profile:

1. Partition the target (alarm image init, alarm device init),
2. Format and mount the partitions (alarm format, alarm mount),
3. Download and install Arch Linux ARM (alarm download, alarm install),
4. Clean up (alarm cleanup).

alarm build runs all steps in order. Every step inspects the system
before changing it, so any step can be re-run.

Profiles are read from <profile_dir>/<profile>.yml, with
<profile>.override.yml (if present) layered on top.
`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			versionVal, err := cmd.Flags().GetBool("version")
			if err != nil {
				return fmt.Errorf("BUG: version flag declared as non-bool")
			}
			if versionVal {
				fmt.Fprintln(cmd.OutOrStdout(), version.Read())
				return nil
			}
			return pflag.ErrHelp
		},
	}
	rootCmd.AddGroup(&cobra.Group{
		ID:    "build",
		Title: "Commands to build a complete installation:",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "storage",
		Title: "Commands to prepare the storage target step by step:",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "payload",
		Title: "Commands to install Arch Linux ARM:",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "profile",
		Title: "Commands to inspect profiles and the host:",
	})
	rootCmd.Flags().Bool("version", false, "print alarm version")
	profileflag.RegisterPflags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(imageCmd())
	rootCmd.AddCommand(deviceCmd())
	rootCmd.AddCommand(formatCmd())
	rootCmd.AddCommand(mountCmd())
	rootCmd.AddCommand(unmountCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(downloadCmd())
	rootCmd.AddCommand(installCmd())
	rootCmd.AddCommand(fstabCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}
