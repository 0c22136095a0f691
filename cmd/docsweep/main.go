// Package main provides the docsweep command line: one-shot scans and
// searches over a document tree, a foreground watch mode and control of
// the docsweepd daemon.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
