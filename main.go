// The main package for the menuingest executable.
package main

import (
	"github.com/JakeFAU/realtime-menu-ingest/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
