package main

import (
	"fmt"
	"os"
)

// osExit wraps os.Exit so tests can intercept process termination.
var osExit = os.Exit

// fatal prints a formatted error message to stderr and exits with code 1
// (spec §6: "Fatal errors... propagate to the process entry point which
// returns a non-zero exit code").
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	osExit(1)
}

// argError prints a formatted usage error and exits with code 2.
func argError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	osExit(2)
}
