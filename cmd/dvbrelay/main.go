// Package main is the entry point for the dvbrelay application.
package main

import (
	"os"

	"github.com/jmylchreest/dvbrelay/cmd/dvbrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
