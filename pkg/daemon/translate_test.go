package daemon

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/vootelerotov/fsnotifier/pkg/protocol"
)

func TestTranslateMask(t *testing.T) {
	tests := []struct {
		mask     uint32
		expected protocol.EventKind
		ok       bool
	}{
		{unix.IN_CREATE, protocol.Create, true},
		{unix.IN_MOVED_TO, protocol.Create, true},
		{unix.IN_DELETE, protocol.Delete, true},
		{unix.IN_MOVED_FROM, protocol.Delete, true},
		{unix.IN_MODIFY, protocol.Change, true},
		{unix.IN_ATTRIB, protocol.Stats, true},
		{unix.IN_ISDIR, "", false},
		{0, "", false},
	}
	for _, test := range tests {
		kind, ok := translateMask(test.mask)
		if kind != test.expected || ok != test.ok {
			t.Errorf("translateMask(%#x) = (%q, %v), expected (%q, %v)",
				test.mask, kind, ok, test.expected, test.ok)
		}
	}
}
