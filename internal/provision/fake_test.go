package provision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/alarmpi/tools/internal/config"
	"github.com/alarmpi/tools/internal/console"
	"github.com/alarmpi/tools/internal/execute"
	"github.com/alarmpi/tools/internal/execute/executetest"
	"github.com/alarmpi/tools/internal/inspect"
	"github.com/alarmpi/tools/internal/prompt"
)

const (
	losetupList = "losetup --list --json --output NAME,BACK-FILE"
	lsblk       = "lsblk --json --bytes --output PATH,FSTYPE,SIZE "
)

type mountEntry struct {
	source, mountpoint, fstype string
}

// fakeSystem simulates the effects of the commands the Orchestrator runs
// (loop devices, mounts, file systems) so that tests can observe the
// resulting state through a real Inspector.
type fakeSystem struct {
	t   *testing.T
	dir string

	mountInfo string
	mounts    []mountEntry
	loops     map[string]string // loop device → backing file
	fstypes   map[string]string // partition → file system

	exec *executetest.Recorder
	insp *executetest.Recorder

	stdout bytes.Buffer
	synced int
}

func newFakeSystem(t *testing.T) *fakeSystem {
	t.Helper()
	color.NoColor = true
	dir := t.TempDir()
	s := &fakeSystem{
		t:         t,
		dir:       dir,
		mountInfo: filepath.Join(t.TempDir(), "mountinfo"),
		loops:     make(map[string]string),
		fstypes:   make(map[string]string),
		exec:      &executetest.Recorder{},
		insp:      &executetest.Recorder{},
	}
	s.exec.Hook = s.apply
	s.update()
	return s
}

func (s *fakeSystem) path(rel string) string { return filepath.Join(s.dir, rel) }

// update publishes the simulated state to the mount table and the scripted
// losetup/lsblk output.
func (s *fakeSystem) update() {
	var info strings.Builder
	info.WriteString("22 1 0:21 / /proc rw,nosuid,nodev,noexec,relatime shared:12 - proc proc rw\n")
	info.WriteString("25 1 259:2 / / rw,relatime shared:1 - ext4 /dev/nvme0n1p2 rw\n")
	for i, m := range s.mounts {
		fmt.Fprintf(&info, "%d 25 7:0 / %s rw,relatime - %s %s rw\n",
			100+i, strings.ReplaceAll(m.mountpoint, " ", `\040`), m.fstype, m.source)
	}
	if err := os.WriteFile(s.mountInfo, []byte(info.String()), 0644); err != nil {
		s.t.Fatal(err)
	}

	type loopDevice struct {
		Name        string `json:"name"`
		BackingFile string `json:"back-file"`
	}
	var list struct {
		Devices []loopDevice `json:"loopdevices"`
	}
	var devs []string
	for dev := range s.loops {
		devs = append(devs, dev)
	}
	sort.Strings(devs)
	for _, dev := range devs {
		list.Devices = append(list.Devices, loopDevice{Name: dev, BackingFile: s.loops[dev]})
	}
	out := ""
	if len(list.Devices) > 0 {
		b, err := json.Marshal(list)
		if err != nil {
			s.t.Fatal(err)
		}
		out = string(b)
	}
	s.insp.Set(losetupList, executetest.Response{Output: out})

	for part, fs := range s.fstypes {
		s.insp.Set(lsblk+part, executetest.Response{
			Output: fmt.Sprintf(`{"blockdevices": [{"path": %q, "fstype": %q, "size": 268435456}]}`, part, fs),
		})
	}
}

func (s *fakeSystem) attach(dev, img string) {
	s.loops[dev] = img
	s.update()
}

func (s *fakeSystem) mount(source, mountpoint, fstype string) {
	s.mounts = append(s.mounts, mountEntry{source, mountpoint, fstype})
	s.update()
}

func argAfter(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func (s *fakeSystem) apply(cmd execute.Command) {
	args := cmd.Args
	last := ""
	if len(args) > 0 {
		last = args[len(args)-1]
	}
	switch {
	case cmd.Name == "dd":
		for _, arg := range args {
			if strings.HasPrefix(arg, "of=") {
				os.WriteFile(strings.TrimPrefix(arg, "of="), nil, 0644)
			}
		}
	case cmd.Name == "rm":
		os.Remove(last)
	case cmd.Name == "losetup" && args[0] == "-P":
		for i := 0; ; i++ {
			dev := fmt.Sprintf("/dev/loop%d", i)
			if _, ok := s.loops[dev]; !ok {
				s.loops[dev] = last
				break
			}
		}
	case cmd.Name == "losetup" && args[0] == "-d":
		delete(s.loops, args[1])
	case cmd.Name == "mount":
		fstype := s.fstypes[args[0]]
		if fstype == "" {
			fstype = "auto"
		}
		s.mounts = append(s.mounts, mountEntry{args[0], args[1], fstype})
	case cmd.Name == "umount":
		var kept []mountEntry
		for _, m := range s.mounts {
			if m.mountpoint != args[0] {
				kept = append(kept, m)
			}
		}
		s.mounts = kept
	case cmd.Name == "mkdir":
		os.MkdirAll(last, 0775)
	case strings.HasPrefix(cmd.Name, "mkfs."):
		s.fstypes[last] = strings.TrimPrefix(cmd.Name, "mkfs.")
	case cmd.Name == "bsdtar":
		dir := argAfter(args, "-C")
		os.MkdirAll(filepath.Join(dir, "etc"), 0755)
		os.MkdirAll(filepath.Join(dir, "boot"), 0755)
		os.WriteFile(filepath.Join(dir, "etc", "fstab"), []byte(archFstab), 0644)
		os.WriteFile(filepath.Join(dir, "boot", "kernel8.img"), []byte("kernel"), 0644)
	case cmd.Name == "find":
		dst := argAfter(args, "-t")
		entries, _ := os.ReadDir(args[0])
		for _, e := range entries {
			os.Rename(filepath.Join(args[0], e.Name()), filepath.Join(dst, e.Name()))
		}
	}
	s.update()
}

// orchestrator returns an Orchestrator operating on the fake system.
func (s *fakeSystem) orchestrator(p *config.Profile, c prompt.Confirmer) *Orchestrator {
	return &Orchestrator{
		Profile:   p,
		Executor:  &execute.Executor{Runner: s.exec},
		Inspector: &inspect.Inspector{Runner: s.insp, MountInfo: s.mountInfo},
		Confirmer: c,
		Console:   console.New(&s.stdout, &s.stdout),
		WorkDir:   s.dir,
		Now: func() time.Time {
			return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		},
		Sync: func() { s.synced++ },
	}
}

const archFstab = `# Static information about the filesystems.
# See fstab(5) for details.

# <file system> <dir> <type> <options> <dump> <pass>
/dev/mmcblk0p1  /boot   vfat    defaults        0       0
`

const rpiProfile = `
storage:
  type: rawfile
  internal_device: /dev/mmcblk1
  image_file:
    name: alarm.img
    size_mb: 64
  partitions:
    boot:
      fs_type: vfat
      type: fat32
      end: 256MiB
      internal_path: /boot
      mountpoint: mnt/boot
    root:
      fs_type: ext4
      internal_path: /
      mountpoint: mnt/root
alarm_image:
  url: http://os.archlinuxarm.org/os/ArchLinuxARM-rpi-aarch64-latest.tar.gz
  filename: ArchLinuxARM-rpi-aarch64-latest.tar.gz
`

const deviceProfile = `
storage:
  type: device
  device: /dev/sdb
  partitions:
    root:
      fs_type: ext4
      internal_path: /
      mountpoint: mnt/root
`

func parseProfile(t *testing.T, content string) *config.Profile {
	t.Helper()
	p, err := config.Parse("test", []byte(content))
	if err != nil {
		t.Fatal(err)
	}
	return p
}
