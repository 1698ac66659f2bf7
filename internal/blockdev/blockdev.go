// Package blockdev classifies block device paths into whole devices and
// partitions, following the naming conventions of the Linux kernel.
package blockdev

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the result of classifying a block device path.
type Kind int

const (
	Device Kind = iota
	Partition
)

func (k Kind) String() string {
	switch k {
	case Device:
		return "device"
	case Partition:
		return "partition"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var ErrInvalidDeviceIdentifier = errors.New("invalid device identifier")

var (
	// Disks whose name ends in a digit separate the partition number with a
	// "p": /dev/loop0p1, /dev/mmcblk0p2, /dev/nvme0n1p3.
	digitDevice    = regexp.MustCompile(`^/dev/((?:loop|mmcblk|nbd|md|ram|zram)[0-9]+|nvme[0-9]+n[0-9]+)$`)
	digitPartition = regexp.MustCompile(`^(/dev/(?:(?:loop|mmcblk|nbd|md|ram|zram)[0-9]+|nvme[0-9]+n[0-9]+))p([0-9]+)$`)

	// Disks whose name ends in a letter append the number directly:
	// /dev/sda1, /dev/vdb2, /dev/xvda1.
	letterDevice    = regexp.MustCompile(`^/dev/[a-z]+$`)
	letterPartition = regexp.MustCompile(`^(/dev/[a-z]+)([0-9]+)$`)
)

// Classify returns whether path names a whole device or one of its
// partitions.
func Classify(path string) (Kind, error) {
	switch {
	case digitDevice.MatchString(path):
		return Device, nil
	case digitPartition.MatchString(path):
		return Partition, nil
	case letterPartition.MatchString(path) && !letterExcluded(path):
		return Partition, nil
	case letterDevice.MatchString(path) && !letterExcluded(path):
		return Device, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDeviceIdentifier, path)
}

// digitFamilies are the disks whose names end in a digit.
var digitFamilies = []string{"loop", "mmcblk", "nbd", "md", "ram", "zram", "nvme"}

// letterExcluded reports whether path must not be classified by the
// letter-suffixed rules: members of a digit-suffixed family without their
// number (/dev/loop, /dev/mmcblk), and BSD style disk names (/dev/disk2),
// which Linux does not use.
func letterExcluded(path string) bool {
	name := strings.TrimPrefix(path, "/dev/")
	if strings.HasPrefix(name, "disk") || strings.HasPrefix(name, "rdisk") {
		return true
	}
	for _, family := range digitFamilies {
		if strings.HasPrefix(name, family) {
			return true
		}
	}
	return false
}

// Parent returns the whole device and 1-based index of the partition at path.
func Parent(path string) (device string, index int, _ error) {
	if m := digitPartition.FindStringSubmatch(path); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, err
		}
		return m[1], n, nil
	}
	if m := letterPartition.FindStringSubmatch(path); m != nil && !letterExcluded(path) {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, err
		}
		return m[1], n, nil
	}
	return "", 0, fmt.Errorf("%w: %q is not a partition", ErrInvalidDeviceIdentifier, path)
}

// PartitionPath returns the path of partition num on the whole device base.
func PartitionPath(base string, num int) string {
	n := strconv.Itoa(num)
	name := strings.TrimPrefix(base, "/dev/")
	for _, family := range digitFamilies {
		if strings.HasPrefix(name, family) {
			return base + "p" + n
		}
	}
	return base + n
}
