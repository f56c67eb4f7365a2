// Package main is the entry point for the brickrelay CLI.
package main

import (
	"os"

	"github.com/BrickRelay/BrickRelay/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
