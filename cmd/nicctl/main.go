// cmd/nicctl/main.go
package main

import (
	"os"

	"github.com/alexcatdad/nicd/internal/cli"
)

func main() {
	if err := cli.NewNicctlCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
