package roots

import (
	"bytes"
	"testing"

	"github.com/vootelerotov/fsnotifier/pkg/logging"
	"github.com/vootelerotov/fsnotifier/pkg/protocol"
	"github.com/vootelerotov/fsnotifier/pkg/watching"
)

type fakeEngine struct {
	nextID      int
	watched     map[string][]string // path -> mountExcludes
	missingSet  map[string]bool
	ignoreSet   map[string]bool
	unwatchedID []int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		watched:    make(map[string][]string),
		missingSet: make(map[string]bool),
		ignoreSet:  make(map[string]bool),
	}
}

func (f *fakeEngine) Watch(rootPath string, mountExcludes []string) (int, error) {
	if f.missingSet[rootPath] {
		id := f.nextID
		f.nextID++
		return id, watching.ErrMissing
	}
	if f.ignoreSet[rootPath] {
		return -1, watching.ErrIgnore
	}
	id := f.nextID
	f.nextID++
	f.watched[rootPath] = mountExcludes
	return id, nil
}

func (f *fakeEngine) Unwatch(id int) {
	f.unwatchedID = append(f.unwatchedID, id)
}

func (f *fakeEngine) Rewatch(id int, rootPath string) error {
	if f.missingSet[rootPath] {
		return watching.ErrMissing
	}
	f.watched[rootPath] = nil
	return nil
}

func noMounts() ([]string, error) { return nil, nil }

func mountsOf(paths ...string) MountLister {
	return func() ([]string, error) { return paths, nil }
}

func TestUpdateWatchesNewRoot(t *testing.T) {
	engine := newFakeEngine()
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	r := New(logging.RootLogger, engine, w, noMounts)

	if err := r.Update([]string{"/tmp/x"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, ok := engine.watched["/tmp/x"]; !ok {
		t.Fatalf("expected /tmp/x to be watched")
	}
	if buf.String() != "UNWATCHEABLE\n#\n" {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestUpdateRefusesWholeRoot(t *testing.T) {
	engine := newFakeEngine()
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	r := New(logging.RootLogger, engine, w, noMounts)

	if err := r.Update([]string{"/tmp/x"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	buf.Reset()

	if err := r.Update([]string{"/"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if buf.String() != "UNWATCHEABLE\n/\n#\n" {
		t.Fatalf("output = %q", buf.String())
	}
	if len(engine.unwatchedID) != 1 {
		t.Fatalf("expected the previously-watched root to be unwatched, got %d calls", len(engine.unwatchedID))
	}
	if len(r.current) != 0 {
		t.Fatalf("expected no roots to remain registered")
	}
}

func TestUpdateExcludesNestedUnwatchableMount(t *testing.T) {
	engine := newFakeEngine()
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	r := New(logging.RootLogger, engine, w, mountsOf("/tmp/x/mnt"))

	if err := r.Update([]string{"/tmp/x"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	excludes := engine.watched["/tmp/x"]
	if len(excludes) != 1 || excludes[0] != "/tmp/x/mnt" {
		t.Fatalf("expected mount_excludes = [/tmp/x/mnt], got %v", excludes)
	}
	if buf.String() != "UNWATCHEABLE\n/tmp/x/mnt\n#\n" {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestUpdateMarksRootUnderUnwatchableMount(t *testing.T) {
	engine := newFakeEngine()
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	r := New(logging.RootLogger, engine, w, mountsOf("/tmp/x"))

	if err := r.Update([]string{"/tmp/x/inner"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, ok := engine.watched["/tmp/x/inner"]; ok {
		t.Fatalf("root under an unwatchable mount should not have been watched")
	}
	if buf.String() != "UNWATCHEABLE\n/tmp/x/inner\n#\n" {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestUpdateRemovesDroppedRoots(t *testing.T) {
	engine := newFakeEngine()
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	r := New(logging.RootLogger, engine, w, noMounts)

	if err := r.Update([]string{"/tmp/x", "/tmp/y"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Update([]string{"/tmp/x"}); err != nil {
		t.Fatal(err)
	}
	if len(engine.unwatchedID) != 1 {
		t.Fatalf("expected exactly one unwatch call, got %d", len(engine.unwatchedID))
	}
	if _, ok := r.current["/tmp/y"]; ok {
		t.Fatalf("/tmp/y should have been dropped from the current set")
	}
}

func TestUpdateIsNoOpWhenUnchanged(t *testing.T) {
	engine := newFakeEngine()
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	r := New(logging.RootLogger, engine, w, noMounts)

	if err := r.Update([]string{"/tmp/x"}); err != nil {
		t.Fatal(err)
	}
	watchCountBefore := engine.nextID
	buf.Reset()

	if err := r.Update([]string{"/tmp/x"}); err != nil {
		t.Fatal(err)
	}
	if engine.nextID != watchCountBefore {
		t.Fatalf("expected no additional Watch calls on a no-op update")
	}
	if len(engine.unwatchedID) != 0 {
		t.Fatalf("expected no Unwatch calls on a no-op update")
	}
	if buf.String() != "UNWATCHEABLE\n#\n" {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestCheckMissingRetriesAndSynthesizesEvents(t *testing.T) {
	engine := newFakeEngine()
	engine.missingSet["/tmp/x"] = true
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	r := New(logging.RootLogger, engine, w, noMounts)

	if err := r.Update([]string{"/tmp/x"}); err != nil {
		t.Fatal(err)
	}
	if r.current["/tmp/x"].ID != -1 {
		t.Fatalf("expected the root to be marked MISSING")
	}
	if r.current["/tmp/x"].engineID != 0 {
		t.Fatalf("expected an engine slot id to be allocated even while missing")
	}
	buf.Reset()

	delete(engine.missingSet, "/tmp/x")
	r.CheckMissing()

	if buf.String() != "CREATE\n/tmp/x\nCHANGE\n/tmp/x\n" {
		t.Fatalf("output = %q", buf.String())
	}
	if r.current["/tmp/x"].ID != 0 {
		t.Fatalf("expected the root to be restored to its original engine slot")
	}
}

func TestOnRootVanishedMarksMissingAndEmitsDelete(t *testing.T) {
	engine := newFakeEngine()
	var buf bytes.Buffer
	w := protocol.NewWriter(&buf)
	r := New(logging.RootLogger, engine, w, noMounts)

	if err := r.Update([]string{"/tmp/x"}); err != nil {
		t.Fatal(err)
	}
	id := r.current["/tmp/x"].ID
	buf.Reset()

	r.OnRootVanished(id)

	if buf.String() != "DELETE\n/tmp/x\n" {
		t.Fatalf("output = %q", buf.String())
	}
	if r.current["/tmp/x"].ID != -1 {
		t.Fatalf("expected the root to be marked MISSING")
	}
}
