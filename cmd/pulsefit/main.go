// Command pulsefit runs pulse extraction, curve fitting and single-shot
// readout analysis on JSON input and writes JSON results.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
