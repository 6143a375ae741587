// Package main is the entry point for zipenv and for every archive it
// builds. This is a thin wrapper around the cli package.
package main

import (
	"os"

	"github.com/zot/zipenv/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
