package main

import (
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
)

func newRootCmd(log *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "guardfile",
		Short: "guardfile decides whether untrusted file content is safe to accept",
		Long: `guardfile inspects file content rather than file names: it sniffs the real
media type from magic bytes, hashes the stream, runs structural validators
under hard resource limits, and evaluates a rule policy to an allow, warn
or deny decision. Hostile inputs (zip bombs, malformed PDFs, smuggled
payloads) produce findings and decisions, never crashes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newScanCmd(log))
	root.AddCommand(newBenchCmd(log))
	root.AddCommand(newWatchCmd(log))
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// exitError carries a process exit code out of a command without treating
// the run as failed. Scan exits 1 on deny and 3 on warn under fail-on=warn;
// neither deserves an error line on stderr.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return "exit status " + strconv.Itoa(e.code)
}
