package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/vango-dev/pinus/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	opts := &options{}
	rootCmd := newRootCmd(opts)

	if err := rootCmd.Execute(); err != nil {
		fd := os.Stderr.Fd()
		tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
		reportError(os.Stderr, err, opts.jsonErrors, tty)
		os.Exit(1)
	}
}

// reportError renders err for the user. Terminals get the full colored
// form; pipes get one plain line.
func reportError(w io.Writer, err error, jsonErrors, tty bool) {
	pe := errors.FromError(err, errors.CodeConnectFailed)
	switch {
	case jsonErrors:
		fmt.Fprintln(w, pe.FormatJSON())
	case tty:
		errors.PrintError(w, pe)
	default:
		line := pe.FormatCompact()
		if pe.Wrapped != nil {
			line += ": " + pe.Wrapped.Error()
		}
		fmt.Fprintln(w, line)
	}
}

func newRootCmd(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pinus",
		Short: "Talk to Pinus and Pomelo game servers",
		Long: `pinus is a command-line client for Pinus and Pomelo connectors.

It performs the Pinus handshake over WebSocket and then sends
requests and notifies, or prints server pushes:

  • Protobuf payloads when the server publishes protos
  • JSON payloads otherwise
  • Prometheus metrics on --metrics-addr

Settings are read from pinus.toml in the working directory,
or from --config. Flags override the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts.bind(rootCmd)

	rootCmd.AddCommand(
		requestCmd(opts),
		notifyCmd(opts),
		listenCmd(opts),
		errorsCmd(),
		versionCmd(),
	)
	return rootCmd
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
