// Package main is the entry point for the lexflow CLI.
package main

import (
	"os"

	"github.com/lexflow/lexflow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
