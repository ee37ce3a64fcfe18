package watching

import "errors"

// The sentinel errors returned by Engine.Watch, one per discriminated watch
// outcome (missing root, root unwatchable, process-fatal abort, or
// ignore). RootRegistry maps each of these to a user-visible
// outcome; this mirrors the pattern used for watch results elsewhere
// (ErrWatchTerminated / ErrTooManyPendingPaths in
// pkg/filesystem/watching/watch.go) rather than a raw integer code.
var (
	// ErrMissing indicates that the root's effective path did not exist at
	// registration time. A root slot is still allocated, in a pending
	// re-check state.
	ErrMissing = errors.New("watch root does not exist")
	// ErrContinue indicates that the root could not be watched (for a
	// reason that does not threaten the rest of the engine, most commonly
	// the per-instance watch limit) and should be reported unwatchable.
	ErrContinue = errors.New("watch root cannot be watched")
	// ErrAbort indicates a fatal, unrecoverable condition (such as
	// exhausted memory) that should tear down the whole process.
	ErrAbort = errors.New("watch engine aborted")
	// ErrIgnore indicates a transient, per-entry problem (permission
	// denied, a race with a concurrent delete) that should be logged and
	// skipped without affecting the rest of the walk.
	ErrIgnore = errors.New("watch entry ignored")
)

// ErrInstanceLimit indicates that Engine.Init failed because the
// per-process inotify instance limit was exhausted.
var ErrInstanceLimit = errors.New("inotify instance limit reached")
