// notifyctl operates the automatic notification scheduler from the shell.
//
// Usage:
//
//	notifyctl migrate
//	notifyctl run-once
//	notifyctl status -o json
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
