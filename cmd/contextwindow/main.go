// Package main provides the contextwindow command, which measures a
// conversation against a model's context budget and reduces it by
// summarizing tagged content and truncating old turns.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
