// Package profileflag holds the flags shared by every alarm verb.
package profileflag

import (
	"os"

	"github.com/spf13/pflag"
)

var (
	profileDir     string
	nonInteractive bool
	dryRun         bool
)

func RegisterPflags(fs *pflag.FlagSet) {
	def := os.Getenv("ALARM_PROFILE_DIR")
	if def == "" {
		def = "profiles"
	}
	fs.StringVar(&profileDir,
		"profile_dir",
		def,
		`directory containing <profile>.yml and <profile>.override.yml (default from $ALARM_PROFILE_DIR)`)

	fs.BoolVarP(&nonInteractive,
		"non_interactive",
		"n",
		false,
		`do not ask for confirmation, assume yes (also enabled by options.no_interaction in the profile)`)

	fs.BoolVar(&dryRun,
		"dry_run",
		false,
		`log the commands which would change the system instead of running them`)
}

func ProfileDir() string {
	return profileDir
}

func NonInteractive() bool {
	return nonInteractive
}

func DryRun() bool {
	return dryRun
}
