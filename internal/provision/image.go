package provision

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alarmpi/tools/internal/execute"
	"github.com/alarmpi/tools/internal/plan"
)

// ImageInit creates the image file and its partition table. An existing
// image file is left alone unless force is set. If creating the partition
// table fails, the image file is removed again.
func (o *Orchestrator) ImageInit(ctx context.Context, force bool) error {
	if err := o.requireImage(); err != nil {
		return err
	}
	o.Console.Heading("Create image file")
	img := o.imagePath()
	if _, err := os.Stat(img); err == nil && !force {
		o.Console.Comment("Image file %s already exists. Skipping init.", img)
		return nil
	}
	if err := o.ensureDetached(ctx, img); err != nil {
		return err
	}

	partitions, err := plan.Partitions(img, o.Profile.Partitions)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	cmds := []execute.Command{
		execute.Cmd("dd",
			"if=/dev/zero",
			"of="+img,
			"bs=1048576",
			"count="+strconv.FormatInt(o.Profile.Storage.ImageFile.SizeMB, 10)),
	}
	cmds = append(cmds, partitions...)
	if err := o.run(ctx, "creating "+img, execute.Batch{
		Description: "creating image file " + img,
		Commands:    cmds,
		Rollback:    []execute.Command{execute.Cmd("rm", "-f", img)},
	}); err != nil {
		return err
	}

	o.Console.Info("Image file ready at %s", img)
	if table, err := o.Executor.Output(ctx, execute.Cmd("parted", img, "print")); err == nil {
		o.Console.Printf("%s\n", table)
	}
	return nil
}

// LoopMount attaches the image file to a free loop device, creating
// partition devices for it.
func (o *Orchestrator) LoopMount(ctx context.Context) error {
	if err := o.requireImage(); err != nil {
		return err
	}
	o.Console.Heading("Attach image file to loop device")
	img := o.imagePath()
	if _, err := os.Stat(img); err != nil {
		return fmt.Errorf("%w: image file %s does not exist (run image init first)", ErrPrecondition, img)
	}
	if err := o.ensureDetached(ctx, img); err != nil {
		return err
	}
	if _, err := o.Executor.Output(ctx, execute.Sudo("losetup", "-P", "--show", "-f", img)); err != nil {
		return err
	}

	if o.Executor.DryRun {
		return nil
	}
	// Trust the system, not the output of losetup.
	devs, err := o.Inspector.FindLoopDevices(ctx, img)
	if err != nil {
		return err
	}
	if len(devs) != 1 {
		return fmt.Errorf("%w: image file %s: expected exactly one loop device after attaching, found %d (%s)",
			ErrConflict, img, len(devs), strings.Join(devs, ", "))
	}
	o.Console.Info("Image file %s attached to loop device %s", img, devs[0])
	return nil
}

// LoopUnmount detaches the image file from every loop device it is attached
// to, unmounting their partitions first.
func (o *Orchestrator) LoopUnmount(ctx context.Context) error {
	if err := o.requireImage(); err != nil {
		return err
	}
	o.Console.Heading("Detach image file from loop device")
	img := o.imagePath()
	devs, err := o.Inspector.FindLoopDevices(ctx, img)
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		o.Console.Comment("Image file %s: no loop device to unmount.", img)
		return nil
	}
	var cmds []execute.Command
	for _, dev := range devs {
		mountpoints, err := o.Inspector.FindMountpoints(dev)
		if err != nil {
			return err
		}
		deepestFirst(mountpoints)
		for _, mp := range mountpoints {
			cmds = append(cmds, execute.Sudo("umount", mp))
		}
	}
	for _, dev := range devs {
		cmds = append(cmds, execute.Sudo("losetup", "-d", dev))
	}
	if _, err := o.Executor.Run(ctx, execute.Batch{
		Description: "detaching " + img,
		Commands:    cmds,
	}); err != nil {
		return err
	}
	o.Console.Info("Image file %s detached from loop device %s", img, strings.Join(devs, ", "))
	return nil
}

// ensureDetached makes sure img is not attached to any loop device, offering
// to detach it.
func (o *Orchestrator) ensureDetached(ctx context.Context, img string) error {
	devs, err := o.Inspector.FindLoopDevices(ctx, img)
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		return nil
	}
	o.Console.Error("Image file %s is already attached to loop device %s.", img, strings.Join(devs, ", "))
	ok, err := o.confirm("Detach before proceeding", true)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %w: image file %s is attached to loop device %s",
			ErrPrecondition, ErrConflict, img, strings.Join(devs, ", "))
	}
	if err := o.LoopUnmount(ctx); err != nil {
		return err
	}
	if o.Executor.DryRun {
		return nil
	}
	devs, err = o.Inspector.FindLoopDevices(ctx, img)
	if err != nil {
		return err
	}
	if len(devs) > 0 {
		return fmt.Errorf("%w: image file %s is still attached to %s", ErrConflict, img, strings.Join(devs, ", "))
	}
	return nil
}
