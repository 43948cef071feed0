// Package main is the entry point for the actiongate CLI.
package main

import (
	"os"

	"github.com/actiongate/actiongate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
