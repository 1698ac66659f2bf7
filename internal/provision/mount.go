package provision

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alarmpi/tools/internal/blockdev"
	"github.com/alarmpi/tools/internal/config"
	"github.com/alarmpi/tools/internal/execute"
)

// mountOrder returns the partitions in layout order, except that a
// partition whose mountpoint is nested in the mountpoint of another
// partition always comes after that partition.
func (o *Orchestrator) mountOrder() ([]*config.Partition, map[*config.Partition]string, error) {
	mountpoints := make(map[*config.Partition]string)
	for _, part := range o.Profile.Partitions {
		mp, err := o.mountpoint(part)
		if err != nil {
			return nil, nil, err
		}
		mountpoints[part] = mp
	}
	var (
		order   []*config.Partition
		visited = make(map[*config.Partition]bool)
		visit   func(*config.Partition)
	)
	visit = func(part *config.Partition) {
		if visited[part] {
			return
		}
		visited[part] = true
		for _, other := range o.Profile.Partitions {
			if other != part && mountpoints[other] != mountpoints[part] && within(mountpoints[part], mountpoints[other]) {
				visit(other)
			}
		}
		order = append(order, part)
	}
	for _, part := range o.Profile.Partitions {
		visit(part)
	}
	return order, mountpoints, nil
}

// nestedIn reports whether the mountpoint of part lies within the
// mountpoint of another partition.
func nestedIn(part *config.Partition, mountpoints map[*config.Partition]string) bool {
	for other, omp := range mountpoints {
		if other != part && omp != mountpoints[part] && within(mountpoints[part], omp) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// Mount mounts every partition on its configured mountpoint, creating the
// mountpoint directories as needed. Partitions which are already mounted
// there are skipped, so Mount can safely be run again.
func (o *Orchestrator) Mount(ctx context.Context) error {
	o.Console.Heading("Mount storage to local directories")
	dev, err := o.ResolvePartitions(ctx)
	if err != nil {
		return err
	}
	order, mountpoints, err := o.mountOrder()
	if err != nil {
		return err
	}

	var cmds []execute.Command
	for _, part := range order {
		mp := mountpoints[part]
		current, err := o.Inspector.FindMountpoints(part.ResolvedPath)
		if err != nil {
			return err
		}
		if contains(current, mp) {
			o.Console.Comment("Partition %s (%s) is already mounted at %s.", part.Name, part.ResolvedPath, mp)
			continue
		}
		if nestedIn(part, mountpoints) {
			// The directory lives on the parent file system, which is owned by
			// root once it is mounted.
			cmds = append(cmds, execute.Sudo("mkdir", "-p", "-m", "0775", mp))
		} else if err := os.MkdirAll(mp, 0775); err != nil {
			return err
		}
		cmds = append(cmds, execute.Sudo("mount", part.ResolvedPath, mp))
	}
	if len(cmds) == 0 {
		o.Console.Comment("Device %s: no partition to mount.", dev)
		return nil
	}
	if _, err := o.Executor.Run(ctx, execute.Batch{
		Description: "mounting " + dev,
		Commands:    cmds,
	}); err != nil {
		return err
	}
	o.Console.Info("The partitions of %s have been mounted successfully.", dev)
	return nil
}

// PartitionUnmount unmounts every mountpoint of pathOrDevice (a partition,
// or a whole device for all of its partitions), nested mountpoints first.
// Unmounting something which is not mounted is not an error.
func (o *Orchestrator) PartitionUnmount(ctx context.Context, pathOrDevice string) error {
	mountpoints, err := o.Inspector.FindMountpoints(pathOrDevice)
	if err != nil {
		return err
	}
	if len(mountpoints) == 0 {
		o.Console.Comment("Partition %s is not currently mounted. Nothing to do.", pathOrDevice)
		return nil
	}
	if err := o.unmount(ctx, pathOrDevice, mountpoints); err != nil {
		return err
	}
	o.Console.Info("Partition %s successfully unmounted.", pathOrDevice)
	return nil
}

// UnmountPartition unmounts the partition which is named either by its
// profile name (e.g. boot) or by its block device path. A configured
// partition of an image file which is not attached cannot be mounted, so
// there is nothing to do.
func (o *Orchestrator) UnmountPartition(ctx context.Context, which string) error {
	part := o.Profile.PartitionByName(which)
	if part == nil {
		return o.PartitionUnmount(ctx, which)
	}
	t, err := o.Target(ctx)
	if err != nil {
		return err
	}
	if t.Kind == config.RawFile && len(t.Bindings) == 0 {
		o.Console.Comment("Partition %s is not currently mounted. Nothing to do.", which)
		return nil
	}
	if _, err := o.ResolvePartitions(ctx); err != nil {
		return err
	}
	return o.PartitionUnmount(ctx, part.ResolvedPath)
}

func (o *Orchestrator) unmount(ctx context.Context, what string, mountpoints []string) error {
	deepestFirst(mountpoints)
	cmds := make([]execute.Command, 0, len(mountpoints))
	for _, mp := range mountpoints {
		cmds = append(cmds, execute.Sudo("umount", mp))
	}
	_, err := o.Executor.Run(ctx, execute.Batch{
		Description: "unmounting " + what,
		Commands:    cmds,
	})
	return err
}

// ensureUnmounted makes sure pathOrDevice is not mounted anywhere, offering
// to unmount it.
func (o *Orchestrator) ensureUnmounted(ctx context.Context, pathOrDevice string) error {
	mountpoints, err := o.Inspector.FindMountpoints(pathOrDevice)
	if err != nil {
		return err
	}
	if len(mountpoints) == 0 {
		return nil
	}
	o.Console.Error("%s is mounted at %s.", pathOrDevice, strings.Join(mountpoints, ", "))
	ok, err := o.confirm("Unmount before proceeding", true)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %w: %s is mounted at %s",
			ErrPrecondition, ErrConflict, pathOrDevice, strings.Join(mountpoints, ", "))
	}
	if err := o.unmount(ctx, pathOrDevice, mountpoints); err != nil {
		return err
	}
	if o.Executor.DryRun {
		return nil
	}
	mountpoints, err = o.Inspector.FindMountpoints(pathOrDevice)
	if err != nil {
		return err
	}
	if len(mountpoints) > 0 {
		return fmt.Errorf("%w: %s is still mounted at %s", ErrConflict, pathOrDevice, strings.Join(mountpoints, ", "))
	}
	return nil
}

// Cleanup unmounts all partitions of the target and, for image files,
// detaches the loop device. It is safe to run at any time.
func (o *Orchestrator) Cleanup(ctx context.Context) error {
	o.Console.Heading("Clean up")
	if err := o.UnmountAll(ctx); err != nil {
		return err
	}
	if o.Profile.Storage.Type == config.RawFile {
		return o.LoopUnmount(ctx)
	}
	return nil
}

// UnmountAll unmounts every partition of the target, deepest mountpoint
// first. Image files stay attached.
func (o *Orchestrator) UnmountAll(ctx context.Context) error {
	t, err := o.Target(ctx)
	if err != nil {
		return err
	}
	devs := t.Devices()

	var mountpoints []string
	for i := len(o.Profile.Partitions) - 1; i >= 0; i-- {
		for _, dev := range devs {
			found, err := o.Inspector.FindMountpoints(blockdev.PartitionPath(dev, i+1))
			if err != nil {
				return err
			}
			for _, mp := range found {
				if !contains(mountpoints, mp) {
					mountpoints = append(mountpoints, mp)
				}
			}
		}
	}
	if len(mountpoints) == 0 {
		o.Console.Comment("nothing to unmount")
	} else {
		if err := o.unmount(ctx, strings.Join(devs, ", "), mountpoints); err != nil {
			return err
		}
		o.Console.Info("Unmounted %s.", strings.Join(mountpoints, ", "))
	}
	return nil
}
