// gen-man generates roff-formatted man pages from the nicd and nicctl
// command trees. Run with: go run ./cmd/gen-man [dir]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/alexcatdad/nicd/internal/cli"
)

func main() {
	dir := "man"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating directory: %v\n", err)
		os.Exit(1)
	}

	header := &doc.GenManHeader{
		Section: "1",
		Source:  "nicd",
		Manual:  "User Commands",
	}
	for _, cmd := range []*cobra.Command{cli.NewNicdCommand(), cli.NewNicctlCommand()} {
		cmd.DisableAutoGenTag = true
		if err := doc.GenManTree(cmd, header, dir); err != nil {
			fmt.Fprintf(os.Stderr, "error generating %s pages: %v\n", cmd.Name(), err)
			os.Exit(1)
		}
		fmt.Printf("Generated %s pages in %s\n", cmd.Name(), dir)
	}
}
