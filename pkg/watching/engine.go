//go:build linux

// Package watching implements the recursive-watch engine: it owns the
// kernel inotify instance, the watch-descriptor table, and the recursive
// directory walk that keeps that table in sync with a set of watch roots.
package watching

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/vootelerotov/fsnotifier/pkg/logging"
)

// EventCallback receives a raw kernel event for a regular (non-self,
// non-overflow, non-unmount) directory entry: its absolute path and the
// kernel event mask that produced it. Translating that mask into the
// CREATE/CHANGE/DELETE/STATS vocabulary is the caller's job, mirroring how
// inotify_callback — not the inotify subsystem itself — performs that
// translation in the C reference daemon this engine replaces.
type EventCallback func(path string, mask uint32)

// RootVanishedCallback is invoked when a root's own directory receives a
// delete-self or move-self event
type RootVanishedCallback func(rootID int)

// ResetCallback is invoked on kernel queue overflow or unmount, when events
// may have been lost and the parent has to rescan its trees. The Engine keeps
// its existing watches.
type ResetCallback func()

// Engine owns a single kernel inotify instance and the tree of WatchNodes
// registered against it. It is not safe for concurrent use; all of its
// methods are meant to be called from the single-threaded daemon loop;
// ReadRaw is the sole exception, safe to call from a dedicated reader
// goroutine since it touches no Engine state.
type Engine struct {
	logger *logging.Logger

	fd int

	byWD   map[int]*node
	roots  map[int]*rootState
	nextID int

	onEvent        EventCallback
	onRootVanished RootVanishedCallback
	onReset        ResetCallback

	watchLimitWarned sync.Once
	warnWatchLimit   func()
}

// rootState is the Engine-side counterpart of a registered root.
type rootState struct {
	id            int
	root          *node // nil when missing
	mountExcludes []string
	flat          bool
}

// New creates an uninitialized Engine. Call Init before using it.
func New(logger *logging.Logger) *Engine {
	return &Engine{
		logger: logger,
		fd:     -1,
		byWD:   make(map[int]*node),
		roots:  make(map[int]*rootState),
	}
}

// Init acquires the engine's single kernel notification handle. It returns
// ErrInstanceLimit if the per-process inotify instance limit has been
// exhausted.
func (e *Engine) Init() error {
	fd, err := initInotify()
	if err != nil {
		return err
	}
	e.fd = fd
	return nil
}

// FD exposes the notification file descriptor for multiplexing by the
// daemon's main loop.
func (e *Engine) FD() int {
	return e.fd
}

// Close releases the kernel notification handle. All outstanding watches
// are implicitly dropped by the kernel when the instance is closed, but
// callers should still have unregistered every root first so that the
// Engine's own bookkeeping stays consistent with the discipline ("every kernel watch installed must be removed on every exit
// path").
func (e *Engine) Close() error {
	if e.fd < 0 {
		return nil
	}
	err := closeInotify(e.fd)
	e.fd = -1
	return err
}

// SetEventCallback installs the dispatcher used for ordinary directory
// events (the original set_callback operation).
func (e *Engine) SetEventCallback(cb EventCallback) {
	e.onEvent = cb
}

// SetRootVanishedCallback installs the dispatcher invoked when a root's own
// node is deleted or moved away.
func (e *Engine) SetRootVanishedCallback(cb RootVanishedCallback) {
	e.onRootVanished = cb
}

// SetResetCallback installs the dispatcher invoked on queue overflow or
// unmount.
func (e *Engine) SetResetCallback(cb ResetCallback) {
	e.onReset = cb
}

// SetWatchLimitMessageHook installs a function invoked exactly once per
// process the first time the per-instance watch limit is hit, letting the
// daemon emit the WATCH_LIMIT user message.
func (e *Engine) SetWatchLimitMessageHook(fn func()) {
	e.warnWatchLimit = fn
}

// Watch installs a watch on rootPath, which may begin with the flat
// sentinel '|' to request a non-recursive watch of that directory alone.
// It returns a non-negative Engine-assigned root id on success (including
// when the root is currently missing, paired with ErrMissing) or a negative
// id paired with one of ErrContinue, ErrAbort, or ErrIgnore.
func (e *Engine) Watch(rootPath string, mountExcludes []string) (int, error) {
	flat := isFlat(rootPath)
	effective := effectivePath(rootPath)

	if _, err := os.Lstat(effective); err != nil {
		if os.IsNotExist(err) {
			id := e.allocateRoot(mountExcludes, flat, nil)
			return id, ErrMissing
		}
		e.logger.Warning("unable to stat watch root %s: %v", effective, err)
		return -1, ErrIgnore
	}

	root := &node{name: "", basePath: effective, kids: make(map[string]*node)}

	wd, err := addWatch(e.fd, effective)
	if err != nil {
		if isWatchLimitError(err) {
			e.reportWatchLimit()
			return -1, ErrContinue
		}
		if os.IsNotExist(err) {
			id := e.allocateRoot(mountExcludes, flat, nil)
			return id, ErrMissing
		}
		e.logger.Warning("unable to watch root %s: %v", effective, err)
		return -1, ErrIgnore
	}
	root.wd = wd

	id := e.allocateRoot(mountExcludes, flat, root)
	root.rootID = id
	e.byWD[wd] = root

	if !flat {
		if limitHit := e.installSubtree(root, mountExcludes); limitHit {
			e.reportWatchLimit()
			e.removeSubtree(root)
			delete(e.roots, id)
			return -1, ErrContinue
		}
	}

	return id, nil
}

// Unwatch removes every kernel watch in the subtree rooted at id, frees all
// WatchNodes, and drops the root slot. It is a no-op for an id that does not
// (or no longer) exist.
func (e *Engine) Unwatch(id int) {
	state, ok := e.roots[id]
	if !ok {
		return
	}
	if state.root != nil {
		e.removeSubtree(state.root)
	}
	delete(e.roots, id)
}

// Rewatch re-installs a watch for a root that previously returned
// ErrMissing, once its path has come into existence. It reuses the same
// root id and mount-exclude set.
func (e *Engine) Rewatch(id int, rootPath string) error {
	state, ok := e.roots[id]
	if !ok {
		return ErrIgnore
	}

	effective := effectivePath(rootPath)
	root := &node{name: "", basePath: effective, kids: make(map[string]*node), rootID: id}

	wd, err := addWatch(e.fd, effective)
	if err != nil {
		return ErrMissing
	}
	root.wd = wd
	e.byWD[wd] = root
	state.root = root

	if !state.flat {
		if limitHit := e.installSubtree(root, state.mountExcludes); limitHit {
			e.reportWatchLimit()
			e.removeSubtree(root)
			state.root = nil
			return ErrContinue
		}
	}

	return nil
}

func (e *Engine) allocateRoot(mountExcludes []string, flat bool, root *node) int {
	id := e.nextID
	e.nextID++
	e.roots[id] = &rootState{id: id, root: root, mountExcludes: mountExcludes, flat: flat}
	return id
}

// installSubtree performs the depth-first walk, installing one kernel
// watch per directory below parent. It returns true if the
// per-instance watch limit was hit partway through, in which case the
// caller must abandon (unwatch) everything installed for this root.
func (e *Engine) installSubtree(parent *node, mountExcludes []string) (limitHit bool) {
	parentPath := parent.path()

	entries, err := os.ReadDir(parentPath)
	if err != nil {
		// Permission denied, or the directory vanished mid-walk: log and
		// move on without descending further into this entry.
		e.logger.Info("unable to read directory %s: %v", parentPath, err)
		return false
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			e.logger.Info("unable to stat %s/%s: %v", parentPath, entry.Name(), err)
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			// Never traverse through symlinks.
			continue
		}
		if !info.IsDir() {
			continue
		}

		childPath := parentPath + "/" + entry.Name()
		if isExcluded(childPath, mountExcludes) {
			continue
		}

		wd, err := addWatch(e.fd, childPath)
		if err != nil {
			if isWatchLimitError(err) {
				return true
			}
			// Vanished mid-walk or permission raced away: skip this entry.
			e.logger.Info("unable to watch %s: %v", childPath, err)
			continue
		}

		child := &node{wd: wd, name: entry.Name(), parent: parent, kids: make(map[string]*node), rootID: parent.rootID}
		parent.kids[entry.Name()] = child
		e.byWD[wd] = child

		if e.installSubtree(child, mountExcludes) {
			return true
		}
	}

	return false
}

// removeSubtree unwatches and forgets parent and every descendant.
func (e *Engine) removeSubtree(parent *node) {
	for _, child := range parent.kids {
		e.removeSubtree(child)
	}
	_ = removeWatch(e.fd, parent.wd)
	delete(e.byWD, parent.wd)
}

// forget removes a node and its descendants from the Engine's bookkeeping
// without issuing an explicit inotify_rm_watch call, used when the kernel
// has already dropped the watch itself (delete-self/move-self).
func (e *Engine) forget(n *node) {
	for _, child := range n.kids {
		e.forget(child)
	}
	delete(e.byWD, n.wd)
	n.detach()
}

func (e *Engine) reportWatchLimit() {
	e.watchLimitWarned.Do(func() {
		if e.warnWatchLimit != nil {
			e.warnWatchLimit()
		}
	})
}

func isExcluded(path string, mountExcludes []string) bool {
	for _, excluded := range mountExcludes {
		if path == excluded {
			return true
		}
	}
	return false
}

func isWatchLimitError(err error) bool {
	return err == unix.ENOSPC
}

// isFlat reports whether rootPath carries the flat-watch sentinel.
func isFlat(rootPath string) bool {
	return len(rootPath) > 0 && rootPath[0] == '|'
}

// effectivePath strips the flat-watch sentinel, if present.
func effectivePath(rootPath string) string {
	if isFlat(rootPath) {
		return rootPath[1:]
	}
	return rootPath
}

// ProcessEvents performs one blocking read of the kernel event stream and
// dispatches everything it contains. It is provided for callers that don't
// need to separate the blocking syscall from the state mutation it drives;
// the daemon's main loop instead uses ReadRaw/Dispatch directly so that the
// blocking read can live in its own goroutine while every state mutation
// stays on the loop goroutine.
func (e *Engine) ProcessEvents() error {
	events, overflow, err := e.ReadRaw()
	if err != nil {
		return err
	}
	e.Dispatch(events, overflow)
	return nil
}

// ReadRaw performs one blocking read of the kernel notification handle and
// decodes its contents. It touches no Engine state and is safe to call from
// a dedicated reader goroutine.
func (e *Engine) ReadRaw() (events []RawEvent, overflow bool, err error) {
	return readEvents(e.fd)
}

// Dispatch applies a batch of events previously obtained from ReadRaw to
// the Engine's tables, invoking whichever callbacks they trigger. It is not
// safe for concurrent use and must be called from the single goroutine that
// owns the Engine.
func (e *Engine) Dispatch(events []RawEvent, overflow bool) {
	for _, ev := range events {
		e.dispatch(ev)
	}

	if overflow {
		e.logger.Debug("inotify queue overflow, resetting")
		if e.onReset != nil {
			e.onReset()
		}
	}
}

func (e *Engine) dispatch(ev RawEvent) {
	if ev.Mask&unix.IN_UNMOUNT != 0 {
		e.logger.Debug("unmount observed, resetting")
		if e.onReset != nil {
			e.onReset()
		}
		return
	}

	n, ok := e.byWD[ev.WD]
	if !ok {
		// Races with Unwatch: the kernel can still have buffered events
		// for a watch we've already torn down.
		e.logger.Debug("event for unknown watch descriptor %d, ignoring", ev.WD)
		return
	}

	if ev.Mask&(unix.IN_DELETE_SELF|unix.IN_MOVE_SELF) != 0 {
		wasRoot := n.parent == nil
		rootID := n.rootID
		e.forget(n)
		if wasRoot {
			if state, ok := e.roots[rootID]; ok {
				state.root = nil
			}
			if e.onRootVanished != nil {
				e.onRootVanished(rootID)
			}
		}
		return
	}

	childPath := n.path()
	if ev.Name != "" {
		childPath = childPath + "/" + ev.Name
	}

	if e.onEvent != nil {
		e.onEvent(childPath, ev.Mask)
	}

	isDirEvent := ev.Mask&unix.IN_ISDIR != 0
	isNewDir := isDirEvent && ev.Mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0
	if isNewDir && ev.Name != "" {
		state, ok := e.roots[n.rootID]
		if ok && !state.flat {
			e.installNewSubtree(n, ev.Name, childPath, state.mountExcludes)
		}
	}
}

// installNewSubtree installs watches on a directory that just appeared
// under parent (via create or move-in) and synthesizes a CREATE event for
// every pre-existing descendant directory discovered along the way, so the
// parent sees contents that appeared before the watch took effect
//.
func (e *Engine) installNewSubtree(parent *node, name, path string, mountExcludes []string) {
	if isExcluded(path, mountExcludes) {
		return
	}

	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink != 0 {
		return
	}

	wd, err := addWatch(e.fd, path)
	if err != nil {
		if isWatchLimitError(err) {
			e.reportWatchLimit()
		} else {
			e.logger.Info("unable to watch new directory %s: %v", path, err)
		}
		return
	}

	child := &node{wd: wd, name: name, parent: parent, kids: make(map[string]*node), rootID: parent.rootID}
	parent.kids[name] = child
	e.byWD[wd] = child

	// The CREATE half of this path's event was already delivered by
	// dispatch from the kernel event that led here; synthesize the CHANGE
	// half now that the watch has actually been installed.
	if e.onEvent != nil {
		e.onEvent(path, unix.IN_MODIFY)
	}

	e.synthesizeExistingTree(child, mountExcludes)
}

// synthesizeExistingTree walks a freshly-watched directory's pre-existing
// descendants, installing watches and synthesizing a CREATE+CHANGE event
// pair (via the ordinary event callback) for each one found, so the parent
// sees content that existed before the watch took effect.
func (e *Engine) synthesizeExistingTree(parent *node, mountExcludes []string) {
	parentPath := parent.path()
	entries, err := os.ReadDir(parentPath)
	if err != nil {
		e.logger.Info("unable to read new directory %s: %v", parentPath, err)
		return
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
			continue
		}

		childPath := parentPath + "/" + entry.Name()
		if isExcluded(childPath, mountExcludes) {
			continue
		}

		wd, err := addWatch(e.fd, childPath)
		if err != nil {
			if isWatchLimitError(err) {
				e.reportWatchLimit()
				return
			}
			e.logger.Info("unable to watch %s: %v", childPath, err)
			continue
		}

		child := &node{wd: wd, name: entry.Name(), parent: parent, kids: make(map[string]*node), rootID: parent.rootID}
		parent.kids[entry.Name()] = child
		e.byWD[wd] = child

		if e.onEvent != nil {
			e.onEvent(childPath, unix.IN_CREATE)
			e.onEvent(childPath, unix.IN_MODIFY)
		}

		e.synthesizeExistingTree(child, mountExcludes)
	}
}
