package main

import (
	"os"

	"github.com/cwygoda/postcatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
