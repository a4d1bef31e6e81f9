// The main package for the humancrawl executable.
package main

import (
	"github.com/JakeFAU/humancrawl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
