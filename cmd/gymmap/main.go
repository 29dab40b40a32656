// Package main provides the entry point for the gymmap CLI tool.
package main

import "github.com/crakt/gymmap/cmd/gymmap/cmd"

// Version information populated by goreleaser.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd.Execute(version, commit, date)
}
