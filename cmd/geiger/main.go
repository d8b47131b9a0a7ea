package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Exit codes
const (
	exitClean    = 0
	exitError    = 1
	exitFindings = 2
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configPath string
	debug      bool
	logFormat  string
	threads    int
}

// exitCodeError carries a non-default exit code through cobra
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitClean
	}

	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitError
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "geiger",
		Short: "Static security scanner for Android application packages",
		Long: `geiger decompiles APKs once, runs the nuclei pattern engine and the reAVS
taint engine against the cached trees, and merges their findings into one
versioned report per application.

Exit codes: 0 no findings, 2 findings reported, 1 errors.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (default $GEIGER_CONFIG or ~/.geiger/config.yml)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	flags.IntVar(&opts.threads, "threads", 0, "Parallel decompiles and engine runs (overrides config)")

	root.AddCommand(
		newScanCmd(opts),
		newTemplatesCmd(opts),
		newReportsCmd(opts),
		newCacheCmd(opts),
	)
	return root
}
