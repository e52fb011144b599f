// Package main is the entry point for the dsp-mcp server.
package main

import (
	"fmt"
	"os"

	"github.com/ggoodman/dsp-mcp-go/cmd/dsp-mcp/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
