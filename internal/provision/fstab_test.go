package provision

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/alarmpi/tools/internal/config"
	"github.com/alarmpi/tools/internal/payload"
	"github.com/alarmpi/tools/internal/prompt"
	"github.com/alarmpi/tools/internal/requirements"
)

func TestFstab(t *testing.T) {
	partitions := []*config.Partition{
		{Name: "boot", Type: "fat32", InternalPath: "/boot"},
		{Name: "root", FSType: "ext4", InternalPath: "/"},
		{Name: "scratch", FSType: "ext4"},
		{Name: "home", FSType: "btrfs", InternalPath: "/home/", Options: "compress=zstd"},
	}
	old := "# comment\n/dev/mmcblk0p1 /boot vfat defaults 0 0\n/dev/sda1 /data ext4 defaults 0 2\ntmpfs /tmp tmpfs nodev 0 0"
	got := string(Fstab([]byte(old), "/dev/mmcblk0", partitions))
	want := `# comment
/dev/sda1 /data ext4 defaults 0 2
tmpfs /tmp tmpfs nodev 0 0
/dev/mmcblk0p1	/boot	vfat	defaults	0	2
/dev/mmcblk0p2	/	ext4	defaults,noatime	0	1
/dev/mmcblk0p4	/home	btrfs	compress=zstd	0	2
`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected fstab: diff (-want +got):\n%s", diff)
	}

	// Rewriting is stable.
	if diff := cmp.Diff(got, string(Fstab([]byte(got), "/dev/mmcblk0", partitions))); diff != "" {
		t.Errorf("second rewrite differs: diff (-first +second):\n%s", diff)
	}
}

func TestDefaultMountOptions(t *testing.T) {
	for _, tt := range []struct {
		fs, want string
	}{
		{"ext4", "defaults,noatime"},
		{"ext2", "defaults,noatime"},
		{"vfat", "defaults"},
		{"btrfs", "defaults"},
	} {
		if got := DefaultMountOptions(tt.fs); got != tt.want {
			t.Errorf("DefaultMountOptions(%q) = %q, want %q", tt.fs, got, tt.want)
		}
	}
}

func TestRewriteFstab(t *testing.T) {
	s, o := mounted(t, &prompt.Scripted{})
	if err := os.MkdirAll(s.path("mnt/root/etc"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.path("mnt/root/etc/fstab"), []byte(archFstab), 0644); err != nil {
		t.Fatal(err)
	}

	if err := o.RewriteFstab(context.Background()); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(s.path("mnt/root/etc/fstab"))
	if err != nil {
		t.Fatal(err)
	}
	want := `# Static information about the filesystems.
# See fstab(5) for details.

# <file system> <dir> <type> <options> <dump> <pass>
/dev/mmcblk1p1	/boot	vfat	defaults	0	2
/dev/mmcblk1p2	/	ext4	defaults,noatime	0	1
`
	if diff := cmp.Diff(want, string(b)); diff != "" {
		t.Errorf("unexpected fstab: diff (-want +got):\n%s", diff)
	}
	backup, err := os.ReadFile(s.path("mnt/root/etc/fstab.20240102-030405"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(archFstab, string(backup)); diff != "" {
		t.Errorf("unexpected backup: diff (-want +got):\n%s", diff)
	}
	if got := s.exec.Commands(); len(got) != 0 {
		t.Errorf("RewriteFstab ran commands for a writable file: %q", got)
	}
}

func TestRewriteFstabSkipped(t *testing.T) {
	s := newFakeSystem(t)
	o := s.orchestrator(parseProfile(t, deviceProfile), &prompt.Scripted{})
	if err := o.RewriteFstab(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s.stdout.String(), "Skipping") {
		t.Errorf("unexpected output: %s", s.stdout.String())
	}
}

func TestRewriteFstabNotMounted(t *testing.T) {
	s := newFakeSystem(t)
	s.attach("/dev/loop0", s.path("alarm.img"))
	o := s.orchestrator(parseProfile(t, rpiProfile), &prompt.Scripted{})
	if err := o.RewriteFstab(context.Background()); !IsPrecondition(err) {
		t.Errorf("RewriteFstab: got %v, want a precondition failure", err)
	}
}

func TestBuild(t *testing.T) {
	const archive = "tarball"
	sum := md5.Sum([]byte(archive))
	mux := http.NewServeMux()
	mux.HandleFunc("/os/alarm.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(archive))
	})
	mux.HandleFunc("/os/alarm.tar.gz.md5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s  alarm.tar.gz\n", hex.EncodeToString(sum[:]))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	profile := strings.Replace(rpiProfile,
		"url: http://os.archlinuxarm.org/os/ArchLinuxARM-rpi-aarch64-latest.tar.gz",
		"url: "+srv.URL+"/os/alarm.tar.gz", 1)
	s := newFakeSystem(t)
	o := s.orchestrator(parseProfile(t, profile), &prompt.Scripted{})
	o.NonInteractive = true

	err := o.Build(context.Background(), BuildOptions{
		Cleanup: true,
		Requirements: requirements.Checker{
			LookPath: func(file string) (string, error) { return "/usr/bin/" + file, nil },
		},
		Downloader: &payload.Downloader{Client: srv.Client()},
	})
	if err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(s.path("mnt/root/etc/fstab"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "/dev/mmcblk1p2\t/\text4\tdefaults,noatime\t0\t1\n") {
		t.Errorf("fstab not rewritten:\n%s", b)
	}
	if _, err := os.Stat(s.path("mnt/boot/kernel8.img")); err != nil {
		t.Errorf("boot partition not populated: %v", err)
	}
	if got, err := os.ReadFile(s.path("ArchLinuxARM-rpi-aarch64-latest.tar.gz")); err != nil || string(got) != archive {
		t.Errorf("archive not downloaded: %q, %v", got, err)
	}
	wantDownload := fmt.Sprintf("Downloaded %s (7 B, md5 %s verified).",
		s.path("ArchLinuxARM-rpi-aarch64-latest.tar.gz"), hex.EncodeToString(sum[:]))
	if !strings.Contains(s.stdout.String(), wantDownload) {
		t.Errorf("output does not contain %q:\n%s", wantDownload, s.stdout.String())
	}

	cmds := s.exec.Commands()
	wantTail := []string{
		"sudo umount " + s.path("mnt/root"),
		"sudo umount " + s.path("mnt/boot"),
		"sudo losetup -d /dev/loop0",
	}
	if len(cmds) < len(wantTail) {
		t.Fatalf("too few commands: %q", cmds)
	}
	if diff := cmp.Diff(wantTail, cmds[len(cmds)-len(wantTail):]); diff != "" {
		t.Errorf("unexpected cleanup commands: diff (-want +got):\n%s", diff)
	}
	if len(s.mounts) != 0 || len(s.loops) != 0 {
		t.Errorf("left behind mounts %v, loop devices %v", s.mounts, s.loops)
	}
}

func TestBuildMissingRequirements(t *testing.T) {
	s := newFakeSystem(t)
	o := s.orchestrator(parseProfile(t, rpiProfile), &prompt.Scripted{})
	err := o.Build(context.Background(), BuildOptions{
		Requirements: requirements.Checker{
			LookPath: func(file string) (string, error) { return "", os.ErrNotExist },
		},
	})
	if !IsPrecondition(err) {
		t.Errorf("Build: got %v, want a precondition failure", err)
	}
	if got := s.exec.Commands(); len(got) != 0 {
		t.Errorf("Build ran commands: %q", got)
	}
}
