// Dendrite - class documentation generator for Python source trees.
//
// Dendrite extracts the class structure of a Python codebase into a graph
// and renders it as a cross-linked markdown document set, with search and
// MCP access on top.
package main

import (
	"fmt"
	"os"

	"github.com/dendrite-docs/dendrite/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
