// Package execute runs privileged commands, alone or as batches that either
// fully succeed or are reported as failed (optionally rolling back).
package execute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Command describes one external program invocation.
type Command struct {
	Name string
	Args []string

	// Privileged commands are run through sudo unless we already are root.
	Privileged bool
}

// Cmd is a convenience constructor for an unprivileged Command.
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// Sudo is a convenience constructor for a privileged Command.
func Sudo(name string, args ...string) Command {
	return Command{Name: name, Args: args, Privileged: true}
}

func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+2)
	if c.Privileged {
		parts = append(parts, "sudo")
	}
	parts = append(parts, quote(c.Name))
	for _, arg := range c.Args {
		parts = append(parts, quote(arg))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' ||
			r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' ||
			strings.ContainsRune("/._-=:,+%@", r))
	}) == -1 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Runner runs a single command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// SudoRunner runs commands on the host, elevating privileged commands with
// sudo when the process is not running as root.
type SudoRunner struct {
	// Euid is consulted to decide whether sudo is required. Defaults to
	// unix.Geteuid.
	Euid func() int
}

func (r SudoRunner) argv(c Command) []string {
	euid := unix.Geteuid
	if r.Euid != nil {
		euid = r.Euid
	}
	argv := append([]string{c.Name}, c.Args...)
	if c.Privileged && euid() != 0 {
		argv = append([]string{"sudo"}, argv...)
	}
	return argv
}

func (r SudoRunner) Run(ctx context.Context, c Command) ([]byte, error) {
	argv := r.argv(c)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("%v: %w", cmd.Args, err)
	}
	return out.Bytes(), nil
}

var ErrBatchFailed = errors.New("command batch failed")

// Batch is a list of commands which is run as one unit. If any command
// fails, the remaining commands are skipped and Rollback (if any) is run.
type Batch struct {
	Description string
	Commands    []Command
	Rollback    []Command
}

// BatchError describes a failed Batch.
type BatchError struct {
	Description string
	Attempted   []Command
	Failed      Command
	Output      []byte
	Err         error

	RolledBack  bool
	RollbackErr error
}

func (e *BatchError) Error() string {
	msg := fmt.Sprintf("%s: %q failed: %v", e.Description, e.Failed.String(), e.Err)
	if out := strings.TrimSpace(string(e.Output)); out != "" {
		msg += "\nOutput: " + out
	}
	if e.RollbackErr != nil {
		msg += fmt.Sprintf("\nrollback failed: %v", e.RollbackErr)
	} else if e.RolledBack {
		msg += "\n(rolled back)"
	}
	return msg
}

func (e *BatchError) Is(target error) bool { return target == ErrBatchFailed }

func (e *BatchError) Unwrap() error { return e.Err }

// Executor runs commands and batches through a Runner.
type Executor struct {
	Runner Runner

	// DryRun only logs the commands instead of running them.
	DryRun bool
}

func New() *Executor {
	return &Executor{Runner: SudoRunner{}}
}

// Run executes all commands of b in order. It returns the commands which
// were run (including the failed one) and a *BatchError on failure.
func (e *Executor) Run(ctx context.Context, b Batch) ([]Command, error) {
	var attempted []Command
	for _, c := range b.Commands {
		attempted = append(attempted, c)
		out, err := e.run(ctx, c)
		if err == nil {
			continue
		}
		berr := &BatchError{
			Description: b.Description,
			Attempted:   attempted,
			Failed:      c,
			Output:      out,
			Err:         err,
		}
		if len(b.Rollback) > 0 {
			log.Printf("%s failed, rolling back", b.Description)
			berr.RolledBack = true
			for _, rc := range b.Rollback {
				if _, err := e.run(ctx, rc); err != nil {
					berr.RollbackErr = err
					break
				}
			}
		}
		return attempted, berr
	}
	return attempted, nil
}

// Output runs a single command and returns its trimmed output.
func (e *Executor) Output(ctx context.Context, c Command) (string, error) {
	out, err := e.run(ctx, c)
	if err != nil {
		return "", &BatchError{
			Description: c.Name,
			Attempted:   []Command{c},
			Failed:      c,
			Output:      out,
			Err:         err,
		}
	}
	return strings.TrimSpace(string(out)), nil
}

func (e *Executor) run(ctx context.Context, c Command) ([]byte, error) {
	if e.DryRun {
		log.Printf("dry run, not executing: %s", c)
		return nil, nil
	}
	log.Printf("exec %s", c)
	return e.Runner.Run(ctx, c)
}
