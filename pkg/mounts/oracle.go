// Package mounts enumerates the system's mount table and classifies
// filesystem types as watchable or unwatchable, mirroring the original
// fsnotifier's use of setmntent(3)/getmntent(3) against /etc/mtab.
package mounts

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// procMountsPath is a live view of the current mount table that does not
// require parsing fstab-style comments or stale entries, unlike /etc/mtab.
const procMountsPath = "/proc/self/mounts"

// ignoreFilesystemType is the type reported for mounts that should be
// dropped from consideration entirely (neither watchable nor unwatchable),
// matching the original's MNTTYPE_IGNORE handling.
const ignoreFilesystemType = "ignore"

// Mount pairs a mount point with its filesystem type, corresponding to
// one mount-table entry.
type Mount struct {
	Point string
	Type  string
}

// IsWatchable reports whether a filesystem type can be usefully watched by
// inotify. A type is unwatchable if it matches any of: prefix "dev", exact
// "proc", exact "sysfs", the swap type, prefix "fuse" except "fuseblk",
// exact "cifs", or exact "nfs". All other types (including "ignore", which
// callers are expected to filter out before calling this) are watchable.
func IsWatchable(fsType string) bool {
	switch {
	case strings.HasPrefix(fsType, "dev"):
		return false
	case fsType == "proc":
		return false
	case fsType == "sysfs":
		return false
	case fsType == "swap":
		return false
	case strings.HasPrefix(fsType, "fuse") && fsType != "fuseblk":
		return false
	case fsType == "cifs":
		return false
	case fsType == "nfs":
		return false
	default:
		return true
	}
}

// UnwatchableMounts returns the mount points of every currently mounted
// filesystem whose type is unwatchable, reading the live mount table from
// /proc/self/mounts.
func UnwatchableMounts() ([]string, error) {
	file, err := os.Open(procMountsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s", procMountsPath)
	}
	defer file.Close()
	return UnwatchableMountsFrom(file)
}

// UnwatchableMountsFrom parses a mount table in /proc/mounts format from an
// arbitrary reader, returning the unwatchable mount points. Split out from
// UnwatchableMounts so that tests can inject a synthetic table, the same
// "inject the source, default to the real file in production" shape the
// teacher uses for format.QueryByPath in pkg/filesystem/format.
func UnwatchableMountsFrom(r io.Reader) ([]string, error) {
	var unwatchable []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		point, fsType := unescapeMountField(fields[1]), fields[2]

		if fsType == ignoreFilesystemType {
			continue
		}
		if !IsWatchable(fsType) {
			unwatchable = append(unwatchable, point)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "unable to read mount table")
	}

	return unwatchable, nil
}

// unescapeMountField reverses the octal escaping that the kernel applies to
// spaces, tabs, newlines, and backslashes in /proc/mounts fields.
func unescapeMountField(field string) string {
	if !strings.Contains(field, "\\") {
		return field
	}
	var b strings.Builder
	for i := 0; i < len(field); i++ {
		if field[i] == '\\' && i+3 < len(field) {
			if v, ok := octal3(field[i+1 : i+4]); ok {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(field[i])
	}
	return b.String()
}

// octal3 decodes a 3-digit octal escape sequence, as used by /proc/mounts.
func octal3(digits string) (int, bool) {
	if len(digits) != 3 {
		return 0, false
	}
	value := 0
	for _, d := range digits {
		if d < '0' || d > '7' {
			return 0, false
		}
		value = value*8 + int(d-'0')
	}
	return value, true
}
