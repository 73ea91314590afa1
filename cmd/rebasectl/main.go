package main

import (
	"os"

	"github.com/rebasectl/rebasectl/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
