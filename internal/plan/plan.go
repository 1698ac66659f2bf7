// Package plan turns a partition layout into the commands which create it.
// Nothing in this package touches the system.
package plan

import (
	"fmt"
	"strings"

	"github.com/alarmpi/tools/internal/config"
	"github.com/alarmpi/tools/internal/execute"
)

const (
	// FirstSector leaves room for the partition table and boot loader.
	FirstSector = "2048s"
	// FillDevice makes the last partition extend to the end of the device.
	FillDevice = "100%"
)

// partedTypes maps mkfs/mount file system types to the type tokens parted
// understands where the two differ.
var partedTypes = map[string]string{
	"vfat":  "fat32",
	"msdos": "fat16",
}

// mkfsTypes maps parted type tokens to the mkfs.<type> helper and mount type.
var mkfsTypes = map[string]string{
	"fat32": "vfat",
	"fat16": "vfat",
}

// PartedType returns the parted file system token for part.
func PartedType(part *config.Partition) string {
	if part.Type != "" {
		return part.Type
	}
	if t, ok := partedTypes[part.FSType]; ok {
		return t
	}
	return part.FSType
}

// FilesystemType returns the type mkfs and mount use for part.
func FilesystemType(part *config.Partition) string {
	if part.FSType != "" {
		return part.FSType
	}
	if t, ok := mkfsTypes[part.Type]; ok {
		return t
	}
	return part.Type
}

// Partitions returns the commands to write a fresh MBR partition table to
// target and create every partition of layout in order.
func Partitions(target string, layout []*config.Partition) ([]execute.Command, error) {
	if target == "" {
		return nil, fmt.Errorf("no partitioning target")
	}
	if len(layout) == 0 {
		return nil, fmt.Errorf("no partitions configured")
	}
	cmds := []execute.Command{
		parted(target, "mklabel", "msdos"),
	}
	prevEnd := ""
	for i, part := range layout {
		start := part.Start
		if start == "" {
			if i == 0 {
				start = FirstSector
			} else {
				start = prevEnd
			}
		}
		end := part.End
		if end == "" {
			if i != len(layout)-1 {
				return nil, fmt.Errorf("partition %s: end offset required for all but the last partition", part.Name)
			}
			end = FillDevice
		}
		typ := PartedType(part)
		if typ == "" {
			return nil, fmt.Errorf("partition %s: no file system type", part.Name)
		}
		cmds = append(cmds, parted(target, "mkpart", "primary", typ, start, end))
		prevEnd = end
	}
	return cmds, nil
}

func parted(target string, args ...string) execute.Command {
	cmd := execute.Cmd("parted", append([]string{"--script", target}, args...)...)
	// Image files belong to the invoking user, block devices to root.
	cmd.Privileged = strings.HasPrefix(target, "/dev/")
	return cmd
}

// Mkfs returns the command creating the file system of part on its
// resolved device. force skips the interactive questions of mkfs, which we
// have already asked the operator ourselves.
func Mkfs(part *config.Partition, force bool) (execute.Command, error) {
	if part.ResolvedPath == "" {
		return execute.Command{}, fmt.Errorf("partition %s: device not resolved", part.Name)
	}
	fs := FilesystemType(part)
	if fs == "" {
		return execute.Command{}, fmt.Errorf("partition %s: no file system type", part.Name)
	}
	var args []string
	if force {
		switch {
		case strings.HasPrefix(fs, "ext"):
			args = append(args, "-F")
		case fs == "vfat":
			args = append(args, "-I")
		case fs == "btrfs", fs == "xfs", fs == "f2fs":
			args = append(args, "-f")
		}
	}
	args = append(args, label(part, fs)...)
	args = append(args, part.ResolvedPath)
	return execute.Sudo("mkfs."+fs, args...), nil
}

func label(part *config.Partition, fs string) []string {
	name := strings.ToUpper(part.Name)
	switch {
	case fs == "vfat":
		if len(name) > 11 {
			name = name[:11]
		}
		return []string{"-n", name}
	case strings.HasPrefix(fs, "ext"):
		return []string{"-L", part.Name}
	}
	return nil
}
