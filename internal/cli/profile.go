package cli

import (
	"io"

	"github.com/alarmpi/tools/internal/config"
	"github.com/alarmpi/tools/internal/console"
	"github.com/alarmpi/tools/internal/profileflag"
	"github.com/alarmpi/tools/internal/prompt"
	"github.com/alarmpi/tools/internal/provision"
)

func loadProfile(name string) (*config.Profile, error) {
	return config.Load(profileflag.ProfileDir(), name)
}

// orchestrator loads the profile name and returns an Orchestrator for it
// which talks to the operator on stdin, stdout and stderr.
func orchestrator(name string, stdin io.Reader, stdout, stderr io.Writer) (*provision.Orchestrator, error) {
	p, err := loadProfile(name)
	if err != nil {
		return nil, err
	}
	nonInteractive := profileflag.NonInteractive() || p.Options.NoInteraction
	o, err := provision.New(p, prompt.For(nonInteractive, stdin, stdout), console.New(stdout, stderr))
	if err != nil {
		return nil, err
	}
	o.NonInteractive = nonInteractive
	o.Executor.DryRun = profileflag.DryRun()
	return o, nil
}
