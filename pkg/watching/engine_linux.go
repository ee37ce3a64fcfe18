//go:build linux

package watching

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// watchMask is the kernel event mask installed on every directory watch:
// create, delete, modify, attrib, moved-from, moved-to, delete-self,
// move-self, unmount.
const watchMask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_MODIFY |
	unix.IN_ATTRIB | unix.IN_MOVED_FROM | unix.IN_MOVED_TO |
	unix.IN_DELETE_SELF | unix.IN_MOVE_SELF | unix.IN_UNMOUNT

// readBufferSize is sized for a comfortable batch of raw inotify events,
// matching the batching size used by other inotify readers in the wild
// (e.g. pspy's inotify.Observe, which reads 5*SizeofInotifyEvent at a
// time); ours is larger since directory names can be attached to each
// event.
const readBufferSize = 64 * unix.SizeofInotifyEvent

// RawEvent is a single decoded kernel event, exposed so that a reader
// goroutine can perform the blocking read independently of the Engine's
// dispatch logic (see Engine.ReadRaw / Engine.Dispatch).
type RawEvent struct {
	WD   int
	Mask uint32
	Name string
}

// initInotify acquires one kernel inotify instance.
func initInotify() (int, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		if errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE) {
			return -1, ErrInstanceLimit
		}
		return -1, errors.Wrap(err, "inotify_init1 failed")
	}
	return fd, nil
}

// addWatch installs (or updates) a kernel watch on path and returns its
// watch descriptor.
func addWatch(fd int, path string) (int, error) {
	wd, err := unix.InotifyAddWatch(fd, path, watchMask)
	if err != nil {
		return -1, err
	}
	return wd, nil
}

// removeWatch removes a kernel watch by descriptor. EINVAL is treated as
// success: the kernel may have already dropped the watch itself (e.g. after
// a delete-self), making an explicit removal redundant.
func removeWatch(fd, wd int) error {
	_, err := unix.InotifyRmWatch(fd, uint32(wd))
	if err != nil && !errors.Is(err, unix.EINVAL) {
		return err
	}
	return nil
}

// closeInotify releases the kernel inotify instance.
func closeInotify(fd int) error {
	return unix.Close(fd)
}

// readEvents performs one blocking read on fd and decodes the raw inotify
// events it contains. overflow reports whether IN_Q_OVERFLOW was set on any
// event in the batch, in which case events may be a truncated prefix of
// what the kernel actually reported and the caller must treat the rest of
// the watch state as stale.
func readEvents(fd int) (events []RawEvent, overflow bool, err error) {
	buf := make([]byte, readBufferSize)

	n, err := unix.Read(fd, buf)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "inotify read failed")
	}
	if n <= 0 {
		return nil, false, nil
	}

	offset := 0
	for offset+unix.SizeofInotifyEvent <= n {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		mask := raw.Mask
		wd := int(raw.Wd)
		nameLen := int(raw.Len)
		offset += unix.SizeofInotifyEvent

		var name string
		if nameLen > 0 && offset+nameLen <= n {
			name = cString(buf[offset : offset+nameLen])
		}
		offset += nameLen

		if mask&unix.IN_Q_OVERFLOW != 0 {
			overflow = true
			break
		}

		events = append(events, RawEvent{WD: wd, Mask: mask, Name: name})
	}

	return events, overflow, nil
}

// cString returns the portion of a NUL-padded byte slice up to the first
// NUL byte, as used for inotify_event name fields.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
