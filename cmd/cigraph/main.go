// Package main provides the entry point for the cigraph CLI.
package main

import (
	"os"

	"github.com/cigraph/cigraph/cmd/cigraph/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
