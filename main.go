// The main package for the geticon executable.
package main

import (
	"github.com/snapbooks-app/geticon/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
