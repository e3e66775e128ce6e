// Command promptrelay serves the prompt relay and offers one-shot submission
// and template inspection against a generation engine.
package main

import (
	"fmt"
	"os"
)

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := newRootCmd(fmt.Sprintf("%s (commit: %s)", version, commit))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
