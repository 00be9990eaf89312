// Package system supplies machine and repository metadata for pulses. Every
// lookup is best effort and reports failure as an empty string.
package system

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // zone names resolve without system tzdata

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/src-d/enry/v2"
)

// machineNamespace scopes machine ids generated by pulse.
var machineNamespace = uuid.MustParse("7d0c6c52-8f1e-4d0b-9a57-3f2f2c1b9e10")

// Info implements pulse.SystemInfo.
type Info struct {
	Fs  afero.Fs  // manifest reads; nil uses the OS filesystem
	Git GitRunner // nil runs the real git binary

	once      sync.Once
	machineID string
}

// New returns an Info over the OS filesystem and git binary.
func New() *Info {
	return &Info{Fs: afero.NewOsFs()}
}

// MachineID is a stable UUIDv5 over hostname, OS and architecture.
func (i *Info) MachineID() string {
	i.once.Do(func() {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		i.machineID = MachineIDFor(host, runtime.GOOS, runtime.GOARCH)
	})
	return i.machineID
}

// MachineIDFor derives the machine id from its inputs.
func MachineIDFor(host, goos, goarch string) string {
	return uuid.NewSHA1(machineNamespace, []byte(host+"|"+goos+"|"+goarch)).String()
}

// Branch returns the current git branch for the directory holding path.
func (i *Info) Branch(ctx context.Context, path string) string {
	return branch(ctx, i.Git, path)
}

// Dependencies returns the dependency fingerprint of the nearest manifest.
func (i *Info) Dependencies(ctx context.Context, path, root string) string {
	fs := i.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return dependencies(fs, path, root)
}

// Language detects the language from the file name and content.
func (i *Info) Language(fileName string, content []byte) string {
	if fileName == "" {
		return ""
	}
	return enry.GetLanguage(filepath.Base(fileName), content)
}

// Timezone returns the local IANA zone name: $TZ, then the /etc/localtime
// link target, then UTC.
func Timezone() string {
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			return tz
		}
	}
	if target, err := os.Readlink("/etc/localtime"); err == nil {
		if name := zoneFromPath(target); name != "" {
			return name
		}
	}
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	return "UTC"
}

func zoneFromPath(p string) string {
	const marker = "zoneinfo/"
	idx := strings.LastIndex(p, marker)
	if idx == -1 {
		return ""
	}
	return p[idx+len(marker):]
}
