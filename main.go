// Package main is the entry point for the psqlm CLI application.
// It provides a natural-language PostgreSQL shell with previewed writes.
package main

import (
	"psqlm/cli/cmd"
)

// main initializes and executes the command-line interface.
func main() {
	cmd.Execute()
}
