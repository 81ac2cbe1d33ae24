// Package main provides the bigrid CLI tool.
//
// Usage:
//
//	bigrid [flags] <command> [args]
//
// Commands:
//
//	parse    - Parse a bigraph model document into grid cells
//	coord    - Decode and encode coordinate names
//	grid     - Generate a grid model document
//	listen   - Print live position updates and control actions
//	config   - Configuration management
//
// Configuration:
//
//	The CLI reads ~/.bigrid/config.yaml.
//	Use 'bigrid config' commands to inspect and change it.
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/bigrid/cmd/bigrid/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
