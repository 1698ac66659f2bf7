// Package inspect queries the live system for loop device bindings, mounts
// and block device contents. It never changes anything and never caches:
// every call reflects the state of the system at the time of the call.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alarmpi/tools/internal/blockdev"
	"github.com/alarmpi/tools/internal/execute"
)

// ErrInspection is returned when live state cannot be determined. No
// safety check can be made without it, so callers must abort.
var ErrInspection = errors.New("cannot inspect system state")

// DefaultMountInfo is the live mount table of the calling process.
const DefaultMountInfo = "/proc/self/mountinfo"

// Inspector answers questions about the current system state.
type Inspector struct {
	// Runner runs the (unprivileged) query commands losetup and lsblk.
	Runner execute.Runner

	// MountInfo is the path of the mount table in mountinfo(5) format.
	MountInfo string
}

func New(r execute.Runner) *Inspector {
	return &Inspector{
		Runner:    r,
		MountInfo: DefaultMountInfo,
	}
}

type loopDevice struct {
	Name        string `json:"name"`
	BackingFile string `json:"back-file"`
}

type loopDeviceList struct {
	Devices []loopDevice `json:"loopdevices"`
}

// Canonical resolves path to an absolute path without symlinks. Paths which
// do not exist are only made absolute.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// FindLoopDevices returns the loop devices (sorted) currently backed by
// imagePath. More than one result means the image is bound multiple times.
func (i *Inspector) FindLoopDevices(ctx context.Context, imagePath string) ([]string, error) {
	want, err := Canonical(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInspection, err)
	}
	out, err := i.Runner.Run(ctx, execute.Cmd("losetup", "--list", "--json", "--output", "NAME,BACK-FILE"))
	if err != nil {
		return nil, fmt.Errorf("%w: listing loop devices: %v", ErrInspection, err)
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return nil, nil // no loop devices in use at all
	}
	var list loopDeviceList
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, fmt.Errorf("%w: parsing losetup output: %v", ErrInspection, err)
	}
	var devices []string
	for _, dev := range list.Devices {
		backing := strings.TrimSpace(dev.BackingFile)
		if backing == "" || strings.HasSuffix(backing, "(deleted)") {
			continue
		}
		got, err := Canonical(backing)
		if err != nil {
			continue
		}
		if got == want {
			devices = append(devices, dev.Name)
		}
	}
	sort.Strings(devices)
	return devices, nil
}

// Mount is one entry of the live mount table.
type Mount struct {
	Source     string
	Mountpoint string
	FSType     string
}

// Mounts returns the live mount table.
func (i *Inspector) Mounts() ([]Mount, error) {
	path := i.MountInfo
	if path == "" {
		path = DefaultMountInfo
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInspection, err)
	}
	return parseMountInfo(string(b))
}

// parseMountInfo parses mountinfo(5):
//
//	36 35 98:0 /mnt1 /mnt/parent rw,noatime master:1 - ext3 /dev/root rw,errors=continue
func parseMountInfo(content string) ([]Mount, error) {
	var mounts []Mount
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		sep := -1
		for idx := 6; idx < len(fields); idx++ {
			if fields[idx] == "-" {
				sep = idx
				break
			}
		}
		if len(fields) < 5 || sep == -1 || sep+2 >= len(fields) {
			return nil, fmt.Errorf("%w: malformed mountinfo line %q", ErrInspection, line)
		}
		mounts = append(mounts, Mount{
			Source:     unescape(fields[sep+2]),
			Mountpoint: unescape(fields[4]),
			FSType:     fields[sep+1],
		})
	}
	return mounts, nil
}

// unescape decodes the octal escapes (\040 for space etc.) the kernel uses
// in the mount table.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			b.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isOctal(c byte) bool { return c >= '0' && c <= '7' }

// FindMountpoints returns the sorted mountpoints of pathOrDevice. For a
// partition, mounts of exactly that partition are returned; for a whole
// device, mounts of any of its partitions.
func (i *Inspector) FindMountpoints(pathOrDevice string) ([]string, error) {
	kind, err := blockdev.Classify(pathOrDevice)
	if err != nil {
		return nil, err
	}
	mounts, err := i.Mounts()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var mountpoints []string
	for _, m := range mounts {
		if !matches(kind, pathOrDevice, m.Source) || seen[m.Mountpoint] {
			continue
		}
		seen[m.Mountpoint] = true
		mountpoints = append(mountpoints, m.Mountpoint)
	}
	sort.Strings(mountpoints)
	return mountpoints, nil
}

func matches(kind blockdev.Kind, arg, source string) bool {
	if kind == blockdev.Partition {
		return source == arg
	}
	if source == arg {
		// The whole device carries a file system without a partition table.
		return true
	}
	parent, _, err := blockdev.Parent(source)
	return err == nil && parent == arg
}

// BlockInfo describes one block device as reported by lsblk. Fields are nil
// when unknown (e.g. no file system).
type BlockInfo struct {
	FSType    *string
	SizeBytes *uint64
}

type lsblkDevice struct {
	Path     string        `json:"path"`
	FSType   *string       `json:"fstype"`
	Size     *json.Number  `json:"size"` // a string or a number, depending on the util-linux version
	Children []lsblkDevice `json:"children"`
}

type lsblkOutput struct {
	Devices []lsblkDevice `json:"blockdevices"`
}

// DescribeBlockDevice returns the partitions of pathOrDevice with their file
// system type and size. If pathOrDevice has no partitions, the result
// describes pathOrDevice itself. If lsblk cannot describe it (no such device,
// no recognizable contents), a single entry with nil fields is returned:
// callers treat that as empty.
func (i *Inspector) DescribeBlockDevice(ctx context.Context, pathOrDevice string) map[string]BlockInfo {
	empty := map[string]BlockInfo{pathOrDevice: {}}
	out, err := i.Runner.Run(ctx, execute.Cmd("lsblk", "--json", "--bytes", "--output", "PATH,FSTYPE,SIZE", pathOrDevice))
	if err != nil {
		return empty
	}
	var parsed lsblkOutput
	if err := json.Unmarshal(out, &parsed); err != nil || len(parsed.Devices) == 0 {
		return empty
	}
	result := make(map[string]BlockInfo)
	for _, dev := range parsed.Devices {
		if len(dev.Children) == 0 {
			result[dev.Path] = toInfo(dev)
			continue
		}
		for _, child := range dev.Children {
			result[child.Path] = toInfo(child)
		}
	}
	return result
}

func toInfo(dev lsblkDevice) BlockInfo {
	var info BlockInfo
	if dev.FSType != nil && *dev.FSType != "" {
		fs := *dev.FSType
		info.FSType = &fs
	}
	if dev.Size != nil {
		if n, err := dev.Size.Int64(); err == nil && n >= 0 {
			size := uint64(n)
			info.SizeBytes = &size
		}
	}
	return info
}

// HasContents reports whether any entry of a DescribeBlockDevice result
// carries a file system or is a partition.
func HasContents(infos map[string]BlockInfo, device string) bool {
	for path, info := range infos {
		if path != device || info.FSType != nil {
			return true
		}
	}
	return false
}

// lostAndFound is created by mkfs.ext* and does not count as content.
const lostAndFound = "lost+found"

// IsPopulated reports whether dir contains anything but lost+found and the
// entries named in ignore. A missing directory is not populated.
func IsPopulated(dir string, ignore ...string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrInspection, err)
	}
	for _, e := range entries {
		name := e.Name()
		if name == lostAndFound {
			continue
		}
		skip := false
		for _, ign := range ignore {
			if name == ign {
				skip = true
				break
			}
		}
		if !skip {
			return true, nil
		}
	}
	return false, nil
}
