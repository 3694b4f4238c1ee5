// Package main is the entry point for the playout CLI.
package main

import (
	"os"

	"github.com/zsiec/playout/cmd/playout/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
