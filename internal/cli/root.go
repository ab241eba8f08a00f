// Package cli implements the tachocheck command line tool.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

// ExitCodeViolations is returned by evaluate --fail-on-violation when the
// report is not compliant.
const ExitCodeViolations = 2

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "tachocheck",
		Short: "Evaluate tachograph records against EU driving and rest time rules",
		Long: `tachocheck reads parser output of tachograph card and vehicle unit downloads,
merges it into one timeline and reports daily, weekly, fortnightly and break
limits of Regulation (EC) No 561/2006.

The result is a best-effort estimate, not a certified legal assessment.

Examples:
  tachocheck evaluate card.json
  tachocheck evaluate --tz Europe/Berlin --format json card.json vu.json
  cat card.json | tachocheck evaluate --fail-on-violation -`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(newEvaluateCommand(), newVersionCommand())
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCommand(stdout, stderr)
	root.SetIn(stdin)
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(stderr, exitErr.Err)
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tachocheck version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "tachocheck %s\n", Version)
			return err
		},
	}
}
