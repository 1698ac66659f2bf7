package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/alarmpi/tools/internal/blockdev"
	"github.com/alarmpi/tools/internal/config"
	"github.com/alarmpi/tools/internal/execute"
	"github.com/alarmpi/tools/internal/plan"
)

// DefaultMountOptions returns the fstab options used for a file system type
// when the profile does not configure any.
func DefaultMountOptions(fsType string) string {
	switch fsType {
	case "ext2", "ext3", "ext4":
		return "defaults,noatime"
	}
	return "defaults"
}

// Fstab returns old with one entry per partition which has an internal path.
// Entries for the same device or mount point are replaced, all other lines
// are kept. Devices are named by the convention of the installed system
// (internalDevice), not by the host's loop or block device.
func Fstab(old []byte, internalDevice string, partitions []*config.Partition) []byte {
	type entry struct {
		device, path, fstype, options string
		pass                          int
	}
	var entries []entry
	managed := make(map[string]bool)
	for i, part := range partitions {
		if part.InternalPath == "" {
			continue
		}
		e := entry{
			device: blockdev.PartitionPath(internalDevice, i+1),
			path:   filepath.Clean(part.InternalPath),
			fstype: plan.FilesystemType(part),
			pass:   2,
		}
		e.options = part.Options
		if e.options == "" {
			e.options = DefaultMountOptions(e.fstype)
		}
		if e.path == "/" {
			e.pass = 1
		}
		entries = append(entries, e)
		managed[e.device] = true
		managed[e.path] = true
	}

	var buf bytes.Buffer
	for _, line := range strings.SplitAfter(string(old), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && !strings.HasPrefix(fields[0], "#") &&
			(managed[fields[0]] || managed[filepath.Clean(fields[1])]) {
			continue
		}
		buf.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			buf.WriteByte('\n')
		}
	}
	for _, e := range entries {
		fmt.Fprintf(&buf, "%s\t%s\t%s\t%s\t0\t%d\n", e.device, e.path, e.fstype, e.options, e.pass)
	}
	return buf.Bytes()
}

// RewriteFstab rewrites /etc/fstab of the installed system so that it
// mounts the partitions by their names on the target hardware. The previous
// file is kept with a timestamp suffix. Only image files with a configured
// storage.internal_device are rewritten: a device target is booted with the
// names it already has.
func (o *Orchestrator) RewriteFstab(ctx context.Context) error {
	o.Console.Heading("Rewrite fstab")
	internal := o.Profile.Storage.InternalDevice
	if o.Profile.Storage.Type != config.RawFile || internal == "" {
		o.Console.Comment("Profile %s does not configure storage.internal_device for an image file. Skipping.", o.Profile.Name)
		return nil
	}
	root, err := o.rootPartition()
	if err != nil {
		return err
	}
	if _, err := o.ResolvePartitions(ctx); err != nil {
		return err
	}
	rootMP, err := o.mountpoint(root)
	if err != nil {
		return err
	}
	current, err := o.Inspector.FindMountpoints(root.ResolvedPath)
	if err != nil {
		return err
	}
	if !contains(current, rootMP) {
		return fmt.Errorf("%w: root partition %s is not mounted at %s (run mount first)", ErrPrecondition, root.ResolvedPath, rootMP)
	}

	path := filepath.Join(rootMP, "etc", "fstab")
	old, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	existed := err == nil
	updated := Fstab(old, internal, o.Profile.Partitions)
	backup := path + "." + o.now().Format("20060102-150405")

	if err := o.writeFstab(path, backup, old, updated, existed); err != nil {
		if !errors.Is(err, fs.ErrPermission) {
			return err
		}
		if err := o.writeFstabPrivileged(ctx, path, backup, updated, existed); err != nil {
			return err
		}
	}
	if existed {
		o.Console.Info("Updated %s (previous version saved as %s).", path, filepath.Base(backup))
	} else {
		o.Console.Info("Created %s.", path)
	}
	return nil
}

func (o *Orchestrator) writeFstab(path, backup string, old, updated []byte, existed bool) error {
	if existed {
		if err := renameio.WriteFile(backup, old, 0644); err != nil {
			return err
		}
	}
	return renameio.WriteFile(path, updated, 0644, renameio.WithExistingPermissions())
}

// writeFstabPrivileged is used when the root file system of the installed
// system is not writable by us, which is the usual case.
func (o *Orchestrator) writeFstabPrivileged(ctx context.Context, path, backup string, updated []byte, existed bool) error {
	tmp, err := os.CreateTemp("", "alarm-fstab")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(updated); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	var cmds []execute.Command
	if existed {
		cmds = append(cmds, execute.Sudo("cp", "-p", path, backup))
	}
	cmds = append(cmds, execute.Sudo("install", "-m", "0644", tmp.Name(), path))
	_, err = o.Executor.Run(ctx, execute.Batch{
		Description: "writing " + path,
		Commands:    cmds,
	})
	return err
}
