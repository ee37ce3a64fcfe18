// Package daemon implements the main loop: it owns the parent's command
// and event streams and drives the RootRegistry and InotifyEngine from a
// single goroutine.
package daemon

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/vootelerotov/fsnotifier/pkg/logging"
	"github.com/vootelerotov/fsnotifier/pkg/protocol"
	"github.com/vootelerotov/fsnotifier/pkg/roots"
	"github.com/vootelerotov/fsnotifier/pkg/watching"
)

const (
	// preWaitDelay coalesces bursts of filesystem activity before a pass of
	// event processing
	preWaitDelay = 50 * time.Millisecond
	// missingRootTick drives RootRegistry.CheckMissing
	missingRootTick = 1 * time.Second
)

// ExitCode is the process exit code reported by the daemon.
type ExitCode int

const (
	ExitNormal        ExitCode = 0
	ExitUsageError    ExitCode = 1
	ExitEngineInit    ExitCode = 2
	ExitFatalMainLoop ExitCode = 3
)

// Daemon owns the process's single logical thread of control: the command
// stream from the parent, the kernel notification handle, and the
// RootRegistry/InotifyEngine pair they drive. It is constructed explicitly
// by main and carries no package-level state.
type Daemon struct {
	logger   *logging.Logger
	engine   *watching.Engine
	registry *roots.Registry
	writer   *protocol.Writer
	commands *protocol.LineReader
}

// New wires together a Daemon's Engine, Registry, and protocol Writer. It
// does not touch the kernel; call Run to do that.
func New(logger *logging.Logger, in io.Reader, out io.Writer) *Daemon {
	engine := watching.New(logger.Sublogger("engine"))
	writer := protocol.NewWriter(out)

	registry := roots.New(
		logger.Sublogger("roots"),
		engine,
		writer,
		mountsLister,
	)

	d := &Daemon{
		logger:   logger,
		engine:   engine,
		registry: registry,
		writer:   writer,
		commands: protocol.NewLineReader(in),
	}

	engine.SetEventCallback(d.onEngineEvent)
	engine.SetRootVanishedCallback(registry.OnRootVanished)
	engine.SetResetCallback(d.onReset)
	engine.SetWatchLimitMessageHook(d.onWatchLimit)

	return d
}

// Selftest runs a one-shot diagnostic: it initializes the Engine, attempts
// to watch the given directory, and unwinds again without ever entering
// the protocol command loop, mirroring the original --selftest mode's
// "register the current directory, then exit" behavior.
func (d *Daemon) Selftest(path string) ExitCode {
	if err := d.engine.Init(); err != nil {
		d.writer.UserMessage(errInstanceLimitMessage(err))
		d.writer.Giveup()
		return ExitEngineInit
	}
	defer d.engine.Close()

	if err := d.registry.Update([]string{path}); err != nil {
		d.logger.Error("selftest: fatal error watching %s: %v", path, err)
		return ExitFatalMainLoop
	}

	return ExitNormal
}

// Run drives the main loop until the parent disconnects, sends EXIT, or a
// fatal error occurs. It returns the process exit code to use.
func (d *Daemon) Run() ExitCode {
	if err := d.engine.Init(); err != nil {
		d.writer.UserMessage(errInstanceLimitMessage(err))
		d.writer.Giveup()
		return ExitEngineInit
	}
	defer d.engine.Close()

	commandCh := make(chan protocol.Command)
	go func() {
		for {
			cmd := protocol.ReadCommand(d.commands)
			commandCh <- cmd
			if cmd.Kind == protocol.CommandEOF {
				return
			}
		}
	}()

	type eventBatch struct {
		events   []watching.RawEvent
		overflow bool
	}
	eventCh := make(chan eventBatch)
	eventErrCh := make(chan error, 1)
	go func() {
		for {
			time.Sleep(preWaitDelay)
			events, overflow, err := d.engine.ReadRaw()
			if err != nil {
				eventErrCh <- err
				return
			}
			eventCh <- eventBatch{events: events, overflow: overflow}
		}
	}()

	ticker := time.NewTicker(missingRootTick)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-commandCh:
			switch cmd.Kind {
			case protocol.CommandExit:
				return ExitNormal
			case protocol.CommandEOF:
				return ExitNormal
			case protocol.CommandRoots:
				if err := d.registry.Update(cmd.Roots); err != nil {
					d.logger.Error("fatal error updating watch roots: %v", err)
					return ExitFatalMainLoop
				}
			case protocol.CommandUnknown:
				d.logger.Warning("ignoring unrecognized command: %q", cmd.Raw)
			}
		case batch := <-eventCh:
			d.engine.Dispatch(batch.events, batch.overflow)
		case err := <-eventErrCh:
			d.logger.Error("fatal error reading filesystem events: %v", err)
			return ExitFatalMainLoop
		case <-ticker.C:
			d.registry.CheckMissing()
		}
	}
}

func (d *Daemon) onEngineEvent(path string, mask uint32) {
	kind, ok := translateMask(mask)
	if !ok {
		return
	}
	if err := d.writer.Event(kind, path); err != nil {
		d.logger.Error("failed writing event: %v", err)
	}
}

func (d *Daemon) onReset() {
	if err := d.writer.Reset(); err != nil {
		d.logger.Error("failed writing reset: %v", err)
	}
}

func (d *Daemon) onWatchLimit() {
	if err := d.writer.UserMessage(protocol.WatchLimitText); err != nil {
		d.logger.Error("failed writing watch-limit message: %v", err)
	}
}

func errInstanceLimitMessage(err error) string {
	if errors.Is(err, watching.ErrInstanceLimit) {
		return protocol.InstanceLimitText
	}
	return err.Error()
}
