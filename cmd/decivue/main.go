// Command decivue runs the decision soundness monitor: a scheduler
// loop that re-evaluates decisions against their assumptions,
// constraints, dependencies and the passage of time, plus one-shot
// subcommands for operating a deployment.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches the subcommand. Split out so tests can drive the
// binary without exec.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "tick":
		return runTick(args[2:], stdout, stderr)
	case "export":
		return runExport(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "token":
		return runToken(args[2:], stdout, stderr)
	case "doctor":
		return runDoctor(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return runServe(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "decivue — decision soundness monitor")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: decivue <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve    run the monitor loop (default)")
	fmt.Fprintln(w, "  tick     run one evaluation tick and print the report")
	fmt.Fprintln(w, "  export   sign and archive a decision's timeline bundle")
	fmt.Fprintln(w, "  verify   check a signed timeline bundle file")
	fmt.Fprintln(w, "  token    mint a bearer token for an actor")
	fmt.Fprintln(w, "  doctor   check the deployment configuration")
	fmt.Fprintln(w, "  help     show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration is read from the environment; see pkg/config.")
}
