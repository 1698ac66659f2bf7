// Package requirements verifies that the host provides every program the
// provisioning pipeline shells out to.
package requirements

import (
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Mandatory lists the programs every build needs.
var Mandatory = []string{
	"dd",
	"bsdtar",
	"parted",
	"losetup",
	"mount",
	"umount",
	"lsblk",
	"mkfs.ext4",
	"mkfs.vfat",
}

// MissingError lists every program which could not be found.
type MissingError struct {
	Programs []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required programs: %s (install them or add them to $PATH)", strings.Join(e.Programs, ", "))
}

// Checker looks up programs. The zero value checks the host.
type Checker struct {
	LookPath func(file string) (string, error)
	Euid     func() int
}

// Programs returns the programs the current user needs: Mandatory, plus
// sudo unless running as root.
func (c Checker) Programs() []string {
	euid := unix.Geteuid
	if c.Euid != nil {
		euid = c.Euid
	}
	programs := append([]string(nil), Mandatory...)
	if euid() != 0 {
		programs = append(programs, "sudo")
	}
	return programs
}

// Check returns a *MissingError naming all missing programs, or nil.
func (c Checker) Check() error {
	lookPath := exec.LookPath
	if c.LookPath != nil {
		lookPath = c.LookPath
	}
	var missing []string
	for _, prog := range c.Programs() {
		if _, err := lookPath(prog); err != nil {
			missing = append(missing, prog)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Programs: missing}
	}
	return nil
}
