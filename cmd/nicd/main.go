// cmd/nicd/main.go
package main

import (
	"os"

	"github.com/alexcatdad/nicd/internal/cli"
)

func main() {
	if err := cli.NewNicdCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
