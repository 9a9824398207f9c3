// Package main provides the entry point for the ragkb CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/ragkb/cmd/ragkb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
