package main

import (
	"os"

	"github.com/brgmlab/hydropipe/cmd/hydropipe/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
