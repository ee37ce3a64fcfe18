package daemon

import (
	"golang.org/x/sys/unix"

	"github.com/vootelerotov/fsnotifier/pkg/mounts"
	"github.com/vootelerotov/fsnotifier/pkg/protocol"
)

// translateMask maps a raw kernel event mask delivered by the Engine onto
// the parent-facing event vocabulary. It returns ok == false for masks
// that carry no user-visible event on their own (self/unmount events are
// handled separately by the Engine's dedicated callbacks).
func translateMask(mask uint32) (protocol.EventKind, bool) {
	switch {
	case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
		return protocol.Create, true
	case mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
		return protocol.Delete, true
	case mask&unix.IN_MODIFY != 0:
		return protocol.Change, true
	case mask&unix.IN_ATTRIB != 0:
		return protocol.Stats, true
	default:
		return "", false
	}
}

// mountsLister adapts mounts.UnwatchableMounts to roots.MountLister.
func mountsLister() ([]string, error) {
	return mounts.UnwatchableMounts()
}
