// Package main runs the quickbar task-execution engine: a Playwright-driven
// browser, the planner client and the control surface.
package main

import (
	"fmt"
	"os"

	"github.com/entrhq/quickbar/pkg/logging"
)

const version = "0.1.0"

func main() {
	err := newRootCmd().Execute()
	if shutdownErr := logging.Shutdown(); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush logs: %v\n", shutdownErr)
	}
	if err != nil {
		os.Exit(1)
	}
}
