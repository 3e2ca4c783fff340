// Package main provides the graphnet CLI.
package main

import (
	"fmt"
	"io"
	"os"
)

const version = "v0.1.0"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "graphnet:", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "graphnet - layered neural network graphs")
	fmt.Fprintf(w, "Version: %s\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  version                          Show version")
	fmt.Fprintln(w, "  build    -config F -out M        Build and initialise a network from YAML")
	fmt.Fprintln(w, "  eval     -model M -input ROWS    Evaluate rows (\"1,0;0,1\")")
	fmt.Fprintln(w, "  lookup   -model M -in I -out J   Evaluate one output for a one-hot input")
	fmt.Fprintln(w, "  embed    -model M [-layer L]     Print the one-hot response matrix")
	fmt.Fprintln(w, "  inspect  -model M                Print the topology and tensor table")
	fmt.Fprintln(w, "  registry put|get|list|delete     Manage the network registry")
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return nil
	}

	switch args[0] {
	case "version":
		fmt.Fprintf(stdout, "graphnet %s\n", version)
		return nil
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	case "build":
		return runBuild(args[1:], stdout)
	case "eval":
		return runEval(args[1:], stdout)
	case "lookup":
		return runLookup(args[1:], stdout)
	case "embed":
		return runEmbed(args[1:], stdout)
	case "inspect":
		return runInspect(args[1:], stdout)
	case "registry":
		return runRegistry(args[1:], stdout)
	default:
		usage(stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}
}
