/*
Package main provides the CLI entry point for productbuild.
*/
package main

import (
	"os"

	"github.com/phovea/productbuild/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
