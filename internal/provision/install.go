package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alarmpi/tools/internal/execute"
	"github.com/alarmpi/tools/internal/inspect"
	"github.com/alarmpi/tools/internal/payload"
)

// ArchivePath returns where the root file system archive of the profile is
// stored.
func (o *Orchestrator) ArchivePath() string {
	return o.path(o.Profile.AlarmImage.Filename)
}

// InstallPayload extracts archive onto the mounted partitions. The archive
// is unpacked into the root partition; the contents of every other partition
// (e.g. /boot) are then moved onto that partition, unless it is mounted
// inside the root mountpoint already. Mountpoints which are not empty are
// only written to after confirmation, or when force is set.
func (o *Orchestrator) InstallPayload(ctx context.Context, archive string, force bool) error {
	o.Console.Heading("Install Arch Linux ARM")
	archive = o.path(archive)
	if _, err := os.Stat(archive); err != nil {
		return fmt.Errorf("%w: archive %s not found (run download first)", ErrPrecondition, archive)
	}
	root, err := o.rootPartition()
	if err != nil {
		return err
	}
	if _, err := o.ResolvePartitions(ctx); err != nil {
		return err
	}

	mountpoints := make(map[string]string)
	for _, part := range o.Profile.Partitions {
		mp, err := o.mountpoint(part)
		if err != nil {
			return err
		}
		current, err := o.Inspector.FindMountpoints(part.ResolvedPath)
		if err != nil {
			return err
		}
		if !contains(current, mp) {
			return fmt.Errorf("%w: partition %s (%s) is not mounted at %s (run mount first)",
				ErrPrecondition, part.Name, part.ResolvedPath, mp)
		}
		mountpoints[part.Name] = mp
	}

	for _, part := range o.Profile.Partitions {
		mp := mountpoints[part.Name]
		populated, err := inspect.IsPopulated(mp, nestedMountpoints(mp, mountpoints)...)
		if err != nil {
			return err
		}
		if !populated || force {
			continue
		}
		o.Console.Comment("Mountpoint %s is not empty.", mp)
		ok, err := o.confirm(fmt.Sprintf("Extract into %s anyway, overwriting existing files", mp), false)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: mountpoint %s is not empty", ErrPrecondition, mp)
		}
	}

	rootMP := mountpoints[root.Name]
	cmds := []execute.Command{payload.ExtractCommand(archive, rootMP)}
	for _, part := range o.Profile.Partitions {
		mp := mountpoints[part.Name]
		if part == root || part.InternalPath == "" || within(mp, rootMP) {
			continue
		}
		src := filepath.Join(rootMP, strings.TrimPrefix(filepath.Clean(part.InternalPath), "/"))
		cmds = append(cmds, execute.Sudo("find", src,
			"-mindepth", "1",
			"-maxdepth", "1",
			"-exec", "mv", "-t", mp, "{}", "+"))
	}
	if err := o.run(ctx, "extracting "+filepath.Base(archive), execute.Batch{
		Description: "installing " + archive,
		Commands:    cmds,
	}); err != nil {
		return err
	}
	o.sync()
	o.Console.Info("Arch Linux ARM installed to %s.", rootMP)
	return nil
}

// nestedMountpoints returns the names of the directories directly within mp
// which are mountpoints of other partitions.
func nestedMountpoints(mp string, mountpoints map[string]string) []string {
	var names []string
	for _, other := range mountpoints {
		if other == mp || filepath.Dir(other) != mp {
			continue
		}
		names = append(names, filepath.Base(other))
	}
	return names
}
