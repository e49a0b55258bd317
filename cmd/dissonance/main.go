// Command dissonance runs the governance oracle from the command line.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

const version = "1.0.0"

// Exit codes. Block is distinct so CI gates can branch on it.
const (
	exitOK    = 0
	exitBlock = 1
	exitFatal = 2
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches to a subcommand. It is the entrypoint for tests.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return exitFatal
	}

	switch args[1] {
	case "analyze":
		return runAnalyze(args[2:], stdout, stderr)
	case "rotate-nonce":
		return runRotateNonce(args[2:], stdout, stderr)
	case "baseline":
		return runBaseline(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "dissonance %s\n", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return exitFatal
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "dissonance %s — governance oracle\n", version)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  dissonance <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	printCommand(w, "analyze", "Analyze a change set (--mode, --repo, --commit, --files, ...)")
	printCommand(w, "rotate-nonce", "Install a new redaction nonce version")
	printCommand(w, "baseline", "Manage drift baselines (put|get|list|delete)")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Exit codes: 0 pass/warn, 1 block, 2 fatal.")
	fmt.Fprintln(w, "")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-14s %s\n", name, desc)
}

// fatal prints a taxonomy-coded error as `CODE: message` and returns the
// fatal exit code.
func fatal(stderr io.Writer, err error) int {
	code := contracts.CodeOf(err)
	if code == "" {
		code = contracts.CodeExecutionFailed
	}
	fmt.Fprintf(stderr, "%s: %v\n", code, err)
	return exitFatal
}
