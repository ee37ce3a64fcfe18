// Package roots implements the RootRegistry: the set-diff algorithm that
// reconciles the parent's requested watch roots against the InotifyEngine.
package roots

import (
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/vootelerotov/fsnotifier/pkg/logging"
	"github.com/vootelerotov/fsnotifier/pkg/pathutil"
	"github.com/vootelerotov/fsnotifier/pkg/protocol"
	"github.com/vootelerotov/fsnotifier/pkg/watching"
)

// missing is the sentinel Engine id recorded for a root that does not yet
// exist on disk.
const missing = -1

// WatchRoot pairs a user-requested path (possibly flat-sentinel-prefixed)
// with the Engine id it was registered under. ID is the missing sentinel
// while the root does not exist on disk; engineID is the Engine's own slot
// id for this root and stays valid throughout, since the Engine keeps an
// allocated (but unwatched) slot for a root it could not find.
type WatchRoot struct {
	Path     string
	ID       int
	engineID int
}

// Engine is the subset of watching.Engine the registry depends on, kept
// narrow so tests can substitute a fake.
type Engine interface {
	Watch(rootPath string, mountExcludes []string) (int, error)
	Unwatch(id int)
	Rewatch(id int, rootPath string) error
}

// EventEmitter is the subset of protocol.Writer the registry depends on.
type EventEmitter interface {
	Unwatchable(paths []string) error
	Event(kind protocol.EventKind, path string) error
}

// MountLister matches mounts.UnwatchableMounts's signature, kept as a
// function type so tests can stub the mount table.
type MountLister func() ([]string, error)

// Registry holds the authoritative root set and drives the Engine through
// an add/remove set-diff against each update from the parent.
type Registry struct {
	logger *logging.Logger
	engine Engine
	out    EventEmitter
	mounts MountLister

	// current is keyed by the raw (possibly flat-prefixed) path as supplied
	// by the parent.
	current map[string]*WatchRoot
}

// New constructs an empty Registry.
func New(logger *logging.Logger, engine Engine, out EventEmitter, mounts MountLister) *Registry {
	return &Registry{
		logger:  logger,
		engine:  engine,
		out:     out,
		mounts:  mounts,
		current: make(map[string]*WatchRoot),
	}
}

// Update reconciles the registry's root set with newRoots, implementing a
// seven-step whole-root-refusal / mount-exclusion / add-remove algorithm.
// It returns an error only for a fatal (ERR_ABORT-class) condition;
// everything else is folded into the UNWATCHEABLE block emitted to the
// parent.
func (r *Registry) Update(newRoots []string) error {
	var unwatchable []string

	if len(newRoots) == 1 && newRoots[0] == "/" {
		for path, root := range r.current {
			r.engine.Unwatch(root.engineID)
			delete(r.current, path)
		}
		return r.out.Unwatchable([]string{"/"})
	}

	allMounts, err := r.mounts()
	if err != nil {
		return err
	}
	unwatchableMounts := allMounts

	toAdd, toRemove := diff(keys(r.current), newRoots)

	for _, path := range toAdd {
		effective := protocol.EffectivePath(path)

		if !strings.HasPrefix(effective, "/") {
			r.logger.Warning("watch root %q is not absolute, ignoring", path)
			unwatchable = append(unwatchable, path)
			continue
		}

		var innerMounts []string
		rootUnwatchable := false
		for _, mount := range unwatchableMounts {
			if pathutil.IsParentPath(mount, effective) {
				rootUnwatchable = true
				break
			}
			if isStrictParent(effective, mount) {
				innerMounts = append(innerMounts, mount)
			}
		}
		if rootUnwatchable {
			unwatchable = append(unwatchable, path)
			continue
		}
		unwatchable = append(unwatchable, innerMounts...)

		id, watchErr := r.engine.Watch(path, innerMounts)
		switch watchErr {
		case nil:
			r.current[path] = &WatchRoot{Path: path, ID: id, engineID: id}
		case watching.ErrMissing:
			r.current[path] = &WatchRoot{Path: path, ID: missing, engineID: id}
		case watching.ErrAbort:
			return watchErr
		case watching.ErrIgnore:
			// Nothing further: transient, already logged by the Engine.
		default:
			unwatchable = append(unwatchable, path)
		}
	}

	for _, path := range toRemove {
		if root, ok := r.current[path]; ok {
			r.engine.Unwatch(root.engineID)
			delete(r.current, path)
		}
	}

	r.logger.Info("now watching %s root(s), %s unwatchable",
		humanize.Comma(int64(len(r.current))), humanize.Comma(int64(len(unwatchable))))

	return r.out.Unwatchable(unwatchable)
}

// CheckMissing re-probes every MISSING root, called on each idle tick. It
// restores a root via Rewatch, reusing the Engine slot allocated for it when
// it was first found missing, rather than registering a fresh one.
func (r *Registry) CheckMissing() {
	for path, root := range r.current {
		if root.ID != missing {
			continue
		}
		if err := r.engine.Rewatch(root.engineID, path); err != nil {
			continue
		}
		root.ID = root.engineID
		effective := protocol.EffectivePath(path)
		r.out.Event(protocol.Create, effective)
		r.out.Event(protocol.Change, effective)
	}
}

// OnRootVanished marks the root matching rootID MISSING and reports its
// disappearance, invoked from the Engine's root-vanished callback.
func (r *Registry) OnRootVanished(rootID int) {
	for path, root := range r.current {
		if root.engineID == rootID {
			root.ID = missing
			r.out.Event(protocol.Delete, protocol.EffectivePath(path))
			return
		}
	}
}

func keys(m map[string]*WatchRoot) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	return ks
}

// diff computes added/removed paths using a lexicographic ordering.
func diff(current, newRoots []string) (toAdd, toRemove []string) {
	currentSet := make(map[string]bool, len(current))
	for _, p := range current {
		currentSet[p] = true
	}
	newSet := make(map[string]bool, len(newRoots))
	for _, p := range newRoots {
		newSet[p] = true
	}

	for _, p := range newRoots {
		if !currentSet[p] {
			toAdd = append(toAdd, p)
		}
	}
	for _, p := range current {
		if !newSet[p] {
			toRemove = append(toRemove, p)
		}
	}

	sort.Strings(toAdd)
	sort.Strings(toRemove)
	return toAdd, toRemove
}

// isStrictParent reports whether child lies strictly under parent (child !=
// parent), built on pathutil.IsParentPath's "at or under" predicate.
func isStrictParent(parent, child string) bool {
	return parent != child && pathutil.IsParentPath(parent, child)
}
