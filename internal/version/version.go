// Package version reports which revision of alarm is running, based on the
// build information embedded by the Go toolchain.
package version

import (
	"runtime/debug"
	"strings"
)

const repository = "https://github.com/alarmpi/tools"

// Info is the revision alarm was built from.
type Info struct {
	Revision  string
	Modified  bool
	GoVersion string
}

// Get returns the build information, or ok == false when the binary was
// built without module support.
func Get() (_ Info, ok bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return Info{}, false
	}
	info := Info{GoVersion: bi.GoVersion}
	settings := make(map[string]string)
	for _, s := range bi.Settings {
		settings[s.Key] = s.Value
	}
	// Built from a VCS checkout.
	if rev, ok := settings["vcs.revision"]; ok {
		info.Revision = rev
		info.Modified = settings["vcs.modified"] == "true"
		return info, true
	}
	// Installed with go install, so the version is a pseudo-version such as
	// v0.0.0-20240107144322-7a5757f46310.
	v := bi.Main.Version
	if idx := strings.LastIndexByte(v, '-'); idx > -1 {
		info.Revision = v[idx+1:]
		return info, true
	}
	if v != "" && v != "(devel)" {
		info.Revision = v
		return info, true
	}
	return info, false
}

// Read returns a link to the commit alarm was built from.
func Read() string {
	info, ok := Get()
	if !ok {
		return "<unknown>"
	}
	s := repository + "/commit/" + info.Revision
	if info.Modified {
		s += " (modified)"
	}
	return s
}

// ReadBrief returns a short revision identifier such as g7a5757+, suitable
// for User-Agent headers.
func ReadBrief() string {
	info, ok := Get()
	if !ok {
		return "unknown"
	}
	rev := info.Revision
	if len(rev) > 6 {
		rev = rev[:6]
	}
	if info.Modified {
		rev += "+"
	}
	return "g" + rev
}
