// Package main provides the entry point for the deepsearch CLI.
package main

import (
	"os"

	"github.com/zhailiang23/deep-search-sub000/cmd/deepsearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
