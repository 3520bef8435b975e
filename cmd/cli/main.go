// Package main is the entry point for the querydesk CLI binary.
package main

import (
	"os"

	cli "querydesk/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
