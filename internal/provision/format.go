package provision

import (
	"context"
	"fmt"

	"github.com/alarmpi/tools/internal/execute"
	"github.com/alarmpi/tools/internal/plan"
)

// Format creates the configured file system on every partition. Mounted
// partitions are unmounted first (or the operation is aborted). Partitions
// which already carry the configured file system are only reformatted after
// confirmation; all questions are asked before anything is formatted.
func (o *Orchestrator) Format(ctx context.Context) error {
	o.Console.Heading("Format storage device")
	dev, err := o.ResolvePartitions(ctx)
	if err != nil {
		return err
	}
	for _, part := range o.Profile.Partitions {
		if err := o.ensureUnmounted(ctx, part.ResolvedPath); err != nil {
			return err
		}
	}

	var cmds []execute.Command
	for _, part := range o.Profile.Partitions {
		want := plan.FilesystemType(part)
		info := o.Inspector.DescribeBlockDevice(ctx, part.ResolvedPath)[part.ResolvedPath]
		force := o.NonInteractive
		if info.FSType != nil && *info.FSType == want {
			o.Console.Comment("Partition %s (%s) already contains a %s file system.", part.Name, part.ResolvedPath, want)
			ok, err := o.confirm(fmt.Sprintf("Format %s anyway, destroying its contents", part.ResolvedPath), false)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: partition %s (%s) is already formatted as %s, not reformatting",
					ErrPrecondition, part.Name, part.ResolvedPath, want)
			}
			force = true
		}
		cmd, err := plan.Mkfs(part, force)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPrecondition, err)
		}
		cmds = append(cmds, cmd)
	}

	if err := o.run(ctx, "formatting "+dev, execute.Batch{
		Description: "formatting " + dev,
		Commands:    cmds,
	}); err != nil {
		return err
	}
	o.Console.Info("The partitions of %s have been formatted successfully.", dev)
	return nil
}
