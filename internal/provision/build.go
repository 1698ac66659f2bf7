package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/alarmpi/tools/internal/config"
	"github.com/alarmpi/tools/internal/measure"
	"github.com/alarmpi/tools/internal/payload"
	"github.com/alarmpi/tools/internal/requirements"
)

// BuildOptions configures a full Build.
type BuildOptions struct {
	// OverwriteTarget recreates an existing image file, or partitions a
	// non-empty device without asking.
	OverwriteTarget bool
	ForceDownload   bool
	ForceExtract    bool

	// Cleanup unmounts and detaches everything once the build is done.
	Cleanup bool

	Requirements requirements.Checker
	Downloader   *payload.Downloader
}

// Download fetches the root file system archive of the profile.
func (o *Orchestrator) Download(ctx context.Context, d *payload.Downloader, force bool) error {
	o.Console.Heading("Download Arch Linux ARM")
	if err := o.Profile.Require("alarm_image.url", "alarm_image.filename"); err != nil {
		return err
	}
	img := o.Profile.AlarmImage
	res, err := d.Download(ctx, img.URL, o.ArchivePath(), img.MD5, force)
	if err != nil {
		return err
	}
	if res.Skipped {
		o.Console.Comment("File %s already exists. Skipping download.", o.ArchivePath())
		return nil
	}
	verified := "not verified, no checksum published"
	if res.Verified {
		verified = "md5 " + res.MD5 + " verified"
	}
	o.Console.Info("Downloaded %s (%s, %s).", o.ArchivePath(), measure.Bytes(uint64(res.Size)), verified)
	return nil
}

// Build runs the whole pipeline: check requirements, prepare the target,
// format, mount, download and install the payload and rewrite fstab.
// Every step checks the live system state itself, so a failed Build can be
// resumed by running it again.
func (o *Orchestrator) Build(ctx context.Context, opts BuildOptions) error {
	o.Console.Yell("Arch Linux ARM installer")
	if err := opts.Requirements.Check(); err != nil {
		return err
	}
	o.Console.Info("Requirements OK!")
	if err := o.Profile.Require("alarm_image.url", "alarm_image.filename"); err != nil {
		return err
	}

	switch o.Profile.Storage.Type {
	case config.RawFile:
		if err := o.ImageInit(ctx, opts.OverwriteTarget); err != nil {
			return err
		}
		t, err := o.Target(ctx)
		if err != nil {
			return err
		}
		switch len(t.Bindings) {
		case 0:
			if err := o.LoopMount(ctx); err != nil {
				return err
			}
		case 1:
			o.Console.Comment("Image file %s is already attached to %s.", t.ImagePath, t.DevicePath)
		default:
			return fmt.Errorf("%w: image file %s is attached to multiple loop devices (%s)",
				ErrConflict, t.ImagePath, strings.Join(t.Bindings, ", "))
		}
	case config.Device:
		if err := o.DeviceInit(ctx, opts.OverwriteTarget); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: invalid storage type %q", ErrPrecondition, o.Profile.Storage.Type)
	}

	if err := o.Format(ctx); err != nil {
		return err
	}
	if err := o.Mount(ctx); err != nil {
		return err
	}
	d := opts.Downloader
	if d == nil {
		d = &payload.Downloader{}
	}
	if err := o.Download(ctx, d, opts.ForceDownload); err != nil {
		return err
	}
	if err := o.InstallPayload(ctx, o.ArchivePath(), opts.ForceExtract); err != nil {
		return err
	}
	if err := o.RewriteFstab(ctx); err != nil {
		return err
	}
	if opts.Cleanup {
		if err := o.Cleanup(ctx); err != nil {
			return err
		}
	}
	o.Console.Yell("Build of profile " + o.Profile.Name + " complete")
	return nil
}
