// Package provision drives a storage target from nothing to a bootable Arch
// Linux ARM installation: create (or partition) the target, format, mount,
// install the payload, rewrite fstab and clean up.
//
// Every operation re-derives the state it depends on (loop bindings, mounts,
// file system types) from the running system when it starts and after each
// command which could change it. Nothing is remembered between operations
// except the resolved partition paths, which are recomputed each time they
// are needed. This makes every operation safe to re-run after a failure or
// after the operator changed something by hand.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/alarmpi/tools/internal/blockdev"
	"github.com/alarmpi/tools/internal/config"
	"github.com/alarmpi/tools/internal/console"
	"github.com/alarmpi/tools/internal/execute"
	"github.com/alarmpi/tools/internal/inspect"
	"github.com/alarmpi/tools/internal/measure"
	"github.com/alarmpi/tools/internal/prompt"
	"github.com/alarmpi/tools/internal/requirements"
)

var (
	// ErrPrecondition is returned when an operation cannot start: required
	// configuration is missing or invalid, an earlier step has not run, or
	// the operator refused to resolve a conflict. Nothing was changed.
	ErrPrecondition = errors.New("precondition failed")

	// ErrConflict is returned when the system is in a state which would make
	// an operation destructive (target mounted, image attached more than
	// once).
	ErrConflict = errors.New("conflict detected")
)

// IsPrecondition reports whether err means that an operation refused to
// start, as opposed to a command failing half-way through.
func IsPrecondition(err error) bool {
	var (
		missing *config.MissingKeysError
		invalid *config.InvalidValueError
		progs   *requirements.MissingError
	)
	return errors.Is(err, ErrPrecondition) ||
		errors.Is(err, blockdev.ErrInvalidDeviceIdentifier) ||
		errors.Is(err, config.ErrUnknownProfile) ||
		errors.As(err, &missing) ||
		errors.As(err, &invalid) ||
		errors.As(err, &progs)
}

// Target is the storage being provisioned.
type Target struct {
	Kind config.StorageKind

	// ImagePath and SizeBytes are set for raw image files.
	ImagePath string
	SizeBytes int64

	// Bindings are the loop devices the image file is attached to.
	Bindings []string

	// DevicePath is the whole block device. For image files, it is the loop
	// device and only known once the image is attached exactly once.
	DevicePath string
}

// Devices returns the whole block devices currently backing t.
func (t *Target) Devices() []string {
	if t.Kind == config.RawFile {
		return t.Bindings
	}
	return []string{t.DevicePath}
}

// Orchestrator provisions the target described by Profile.
type Orchestrator struct {
	Profile   *config.Profile
	Executor  *execute.Executor
	Inspector *inspect.Inspector
	Confirmer prompt.Confirmer
	Console   *console.Console

	// NonInteractive answers every question with yes.
	NonInteractive bool

	// WorkDir is the directory relative paths of the profile (image file,
	// mountpoints, archive) are resolved against.
	WorkDir string

	Now  func() time.Time
	Sync func()
}

// New returns an Orchestrator for p which operates on the host.
func New(p *config.Profile, confirmer prompt.Confirmer, cons *console.Console) (*Orchestrator, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		Profile:        p,
		Executor:       execute.New(),
		Inspector:      inspect.New(execute.SudoRunner{}),
		Confirmer:      confirmer,
		Console:        cons,
		NonInteractive: p.Options.NoInteraction,
		WorkDir:        wd,
		Now:            time.Now,
		Sync:           unix.Sync,
	}, nil
}

// path resolves a path from the profile.
func (o *Orchestrator) path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(o.WorkDir, p)
}

func (o *Orchestrator) imagePath() string {
	return o.path(o.Profile.Storage.ImageFile.Name)
}

// mountpoint returns the canonical host mountpoint of part, i.e. the path
// which shows up in the mount table once part is mounted.
func (o *Orchestrator) mountpoint(part *config.Partition) (string, error) {
	return inspect.Canonical(o.path(part.Mountpoint))
}

// Target describes the configured target as the system currently sees it.
// DevicePath is only filled in for image files which are attached to
// exactly one loop device.
func (o *Orchestrator) Target(ctx context.Context) (*Target, error) {
	t := &Target{Kind: o.Profile.Storage.Type}
	switch t.Kind {
	case config.RawFile:
		t.ImagePath = o.imagePath()
		t.SizeBytes = o.Profile.Storage.ImageFile.SizeMB * 1024 * 1024
		devs, err := o.Inspector.FindLoopDevices(ctx, t.ImagePath)
		if err != nil {
			return nil, err
		}
		t.Bindings = devs
		if len(devs) == 1 {
			t.DevicePath = devs[0]
		}
	case config.Device:
		t.DevicePath = o.Profile.Storage.Device
	default:
		return nil, fmt.Errorf("%w: invalid storage type %q", ErrPrecondition, t.Kind)
	}
	return t, nil
}

// requireImage refuses image file operations for other kinds of targets.
func (o *Orchestrator) requireImage() error {
	if o.Profile.Storage.Type != config.RawFile {
		return fmt.Errorf("%w: profile %s is not an image file profile (storage.type %q)",
			ErrPrecondition, o.Profile.Name, o.Profile.Storage.Type)
	}
	return nil
}

func (o *Orchestrator) confirm(message string, def bool) (bool, error) {
	if o.NonInteractive {
		return true, nil
	}
	return o.Confirmer.Confirm(message, def)
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) sync() {
	if o.Sync != nil {
		o.Sync()
		return
	}
	unix.Sync()
}

// run executes b, timing it on the console.
func (o *Orchestrator) run(ctx context.Context, status string, b execute.Batch) error {
	done := measure.Interactively(o.Console.Out, status)
	_, err := o.Executor.Run(ctx, b)
	if err != nil {
		done(" (failed)")
		return err
	}
	done("")
	return nil
}

// rootPartition returns the partition mounted at / in the installed system.
func (o *Orchestrator) rootPartition() (*config.Partition, error) {
	for _, part := range o.Profile.Partitions {
		if filepath.Clean(part.InternalPath) == "/" {
			return part, nil
		}
	}
	return nil, fmt.Errorf("%w: profile %s: no partition with internal_path /", ErrPrecondition, o.Profile.Name)
}

// within reports whether path is dir or below dir.
func within(path, dir string) bool {
	if path == dir {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func depth(path string) int {
	return strings.Count(filepath.Clean(path), string(filepath.Separator))
}

// deepestFirst sorts mountpoints such that nested mountpoints come before
// the mountpoints they are nested in.
func deepestFirst(mountpoints []string) {
	sort.SliceStable(mountpoints, func(i, j int) bool {
		return depth(mountpoints[i]) > depth(mountpoints[j])
	})
}
