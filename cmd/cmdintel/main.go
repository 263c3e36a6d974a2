// Package main is the entry point for the cmdintel CLI.
package main

import (
	"os"

	"github.com/rinawarp/cmdintel/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
