// Package cliopts parses the proxy's command line: the listen address,
// inactivity timeout, and feature toggles, plus the CLI tail of Language
// Server commands that follow the option delimiter `--`.
package cliopts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcncl/lsp-ws-proxy/internal/registry"
)

// version is set at build time via -ldflags; "dev" otherwise, matching the
// proxy's own released binaries.
var version = "dev"

// Options is the fully-parsed command line.
type Options struct {
	Listen      string
	Timeout     time.Duration
	Sync        bool
	Remap       bool
	ServersFile string
	Tail        []string // tokens after the first `--`, handed to registry.ParseCommandTail
}

// ExitCode carries one of the process exit codes assigned to a
// CLI-level failure, alongside the underlying error.
type ExitCode int

const (
	ExitOK          ExitCode = 0
	ExitParseError  ExitCode = 1
	ExitBindFailure ExitCode = 2
	ExitNoServers   ExitCode = 3
)

// Error pairs a message with the exit code the caller should use.
type Error struct {
	Code ExitCode
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Parse builds the root command and parses args (typically os.Args[1:]).
// printVersion is invoked and a nil Options/nil error pair returned when
// -v/--version is given, since the caller (main) owns how "print and exit
// 0" is done.
func Parse(args []string, printVersion func(string)) (*Options, error) {
	opts := &Options{}
	var timeoutSeconds int
	var showVersion bool

	root := &cobra.Command{
		Use:           "lsp-ws-proxy [flags] -- <command> [args...] [-- <command> [args...]]...",
		Short:         "Bridge a WebSocket client to a stdio Language Server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(version)
				return nil
			}
			opts.Timeout = time.Duration(timeoutSeconds) * time.Second
			opts.Tail = tailAfterDash(cmd, args)
			return nil
		},
	}

	root.Flags().StringVarP(&opts.Listen, "listen", "l", "0.0.0.0:9999", "bind address; a bare integer means 0.0.0.0:<int>")
	root.Flags().IntVarP(&timeoutSeconds, "timeout", "t", 0, "inactivity timeout in seconds; 0 disables")
	root.Flags().BoolVarP(&opts.Sync, "sync", "s", false, "enable file sync and the /files endpoint")
	root.Flags().BoolVarP(&opts.Remap, "remap", "r", false, "enable source:// URI remapping")
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "print version and exit")
	root.Flags().StringVar(&opts.ServersFile, "servers-file", "", "YAML file of additional named server specs")

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return nil, &Error{Code: ExitParseError, Err: err}
	}
	if showVersion {
		return nil, nil
	}
	opts.Listen = normalizeListen(opts.Listen)
	return opts, nil
}

// tailAfterDash recovers the raw tokens following the first `--`, which
// cobra strips from args before handing them to RunE's args parameter.
func tailAfterDash(cmd *cobra.Command, parsedArgs []string) []string {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 {
		return nil
	}
	return parsedArgs[dash:]
}

// normalizeListen implements the "bare integer means 0.0.0.0:<int>"
// rule for -l/--listen.
func normalizeListen(addr string) string {
	if _, err := strconv.Atoi(addr); err == nil {
		return "0.0.0.0:" + addr
	}
	return addr
}

// BuildRegistry merges the optional --servers-file specs ahead of the CLI
// tail's specs (file entries win the "no name given" default, per
// registry.LoadFile's doc comment) and reports ExitNoServers when no specs
// were provided at all.
func BuildRegistry(opts *Options) (*registry.Registry, int, error) {
	var specs []registry.ServerSpec

	if opts.ServersFile != "" {
		fileSpecs, err := registry.LoadFile(opts.ServersFile)
		if err != nil {
			return nil, 0, &Error{Code: ExitParseError, Err: err}
		}
		specs = append(specs, fileSpecs...)
	}

	specs = append(specs, registry.ParseCommandTail(opts.Tail)...)

	if len(specs) == 0 {
		return nil, 0, &Error{Code: ExitNoServers, Err: fmt.Errorf("no server specs provided: pass a command after --, or --servers-file")}
	}

	reg, shadowed := registry.New(specs)
	return reg, shadowed, nil
}

// VersionString renders the one-line version banner -v/--version prints.
func VersionString() string {
	return strings.TrimSpace(fmt.Sprintf("lsp-ws-proxy %s", version))
}
