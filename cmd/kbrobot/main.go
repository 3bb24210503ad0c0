// Package main provides the entry point for the kbrobot CLI.
package main

import (
	"os"

	"github.com/Fang088/FF-KB-Robot/cmd/kbrobot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
