// Command fsnotifier is a companion program, spoken to over stdin/stdout by
// a parent process, that watches a set of directory trees for changes and
// reports them as a simple line-oriented event stream.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vootelerotov/fsnotifier/pkg/daemon"
	"github.com/vootelerotov/fsnotifier/pkg/fsnotifier"
	"github.com/vootelerotov/fsnotifier/pkg/logging"
)

func rootMain(command *cobra.Command, _ []string) error {
	level := logging.RootLogger.Level()
	if name := os.Getenv(fsnotifier.LogLevelEnvironmentVariable); name != "" {
		if parsed, ok := logging.NameToLevel(name); ok {
			level = parsed
		}
	}
	logger := logging.New(level)

	if rootConfiguration.selftest {
		code := runSelfTest(logger)
		os.Exit(int(code))
	}

	d := daemon.New(logger, os.Stdin, os.Stdout)
	os.Exit(int(d.Run()))

	return nil
}

// runSelfTest watches the current working directory, mirroring the
// diagnostic mode the parent process invokes to verify the binary is
// functional before relying on it in earnest.
func runSelfTest(logger *logging.Logger) daemon.ExitCode {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	d := daemon.New(logger, os.Stdin, os.Stdout)
	return d.Selftest(cwd)
}

var rootCommand = &cobra.Command{
	Use:          "fsnotifier",
	Version:      fsnotifier.Version,
	Short:        "Watch directory trees and report filesystem changes over stdin/stdout",
	RunE:         rootMain,
	SilenceUsage: true,
}

var rootConfiguration struct {
	// help indicates whether to show help information and exit.
	help bool
	// selftest runs a one-shot self-diagnostic against the current working
	// directory instead of entering normal protocol mode.
	selftest bool
}

func init() {
	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""

	rootCommand.SetVersionTemplate("fsnotifier {{ .Version }}\n")

	flags := rootCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")
	flags.BoolVar(&rootConfiguration.selftest, "selftest", false, "Run self-diagnostics against the current working directory")

	rootCommand.CompletionOptions.HiddenDefaultCmd = true
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
