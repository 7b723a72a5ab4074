// Package main provides the entry point for the marketfeed CLI.
package main

import (
	"github.com/colthorp/marketfeed-go/internal/cli"
)

func main() {
	cli.Execute()
}
