package provision

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alarmpi/tools/internal/blockdev"
	"github.com/alarmpi/tools/internal/config"
	"github.com/alarmpi/tools/internal/execute"
	"github.com/alarmpi/tools/internal/inspect"
	"github.com/alarmpi/tools/internal/measure"
	"github.com/alarmpi/tools/internal/plan"
)

// DeviceInit writes a fresh partition table to the configured block device.
// A device with existing contents is only erased after confirmation (or when
// force is set).
func (o *Orchestrator) DeviceInit(ctx context.Context, force bool) error {
	o.Console.Heading("Initialize storage device")
	dev := o.Profile.Storage.Device
	kind, err := blockdev.Classify(dev)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPrecondition, err)
	}
	if kind != blockdev.Device {
		return fmt.Errorf("%w: %s is a partition, not a whole device", ErrPrecondition, dev)
	}
	if err := o.ensureUnmounted(ctx, dev); err != nil {
		return err
	}

	contents := o.Inspector.DescribeBlockDevice(ctx, dev)
	if inspect.HasContents(contents, dev) {
		o.Console.Error("Device %s is not empty:", dev)
		paths := make([]string, 0, len(contents))
		for path := range contents {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			o.Console.Printf("  %s\n", describe(path, contents[path]))
		}
		if !force {
			ok, err := o.confirm(fmt.Sprintf("Erase all data on %s", dev), false)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: device %s is not empty, not partitioning", ErrPrecondition, dev)
			}
		}
	}

	cmds, err := plan.Partitions(dev, o.Profile.Partitions)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	if err := o.run(ctx, "partitioning "+dev, execute.Batch{
		Description: "partitioning " + dev,
		Commands:    cmds,
	}); err != nil {
		return err
	}
	o.Console.Info("Device %s partitioned.", dev)
	return nil
}

func describe(path string, info inspect.BlockInfo) string {
	var parts []string
	if info.FSType != nil {
		parts = append(parts, *info.FSType)
	} else {
		parts = append(parts, "no file system")
	}
	if info.SizeBytes != nil {
		parts = append(parts, measure.Bytes(*info.SizeBytes))
	}
	return path + ": " + strings.Join(parts, ", ")
}

// ResolvePartitions determines the whole device backing the target and sets
// ResolvedPath of every configured partition, by position: the Nth
// configured partition is the Nth partition of the device.
func (o *Orchestrator) ResolvePartitions(ctx context.Context) (string, error) {
	t, err := o.Target(ctx)
	if err != nil {
		return "", err
	}
	if t.Kind == config.RawFile && len(t.Bindings) == 0 {
		return "", fmt.Errorf("%w: image file %s is not attached to a loop device (run image attach first)", ErrPrecondition, t.ImagePath)
	}
	if len(t.Bindings) > 1 {
		return "", fmt.Errorf("%w: image file %s is attached to multiple loop devices (%s), detach it first",
			ErrConflict, t.ImagePath, strings.Join(t.Bindings, ", "))
	}
	dev := t.DevicePath

	kind, err := blockdev.Classify(dev)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPrecondition, err)
	}
	if kind != blockdev.Device {
		return "", fmt.Errorf("%w: %s is a partition, not a whole device", ErrPrecondition, dev)
	}
	for i, part := range o.Profile.Partitions {
		part.ResolvedPath = blockdev.PartitionPath(dev, i+1)
	}
	return dev, nil
}
