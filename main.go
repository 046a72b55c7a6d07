package main

import (
	"os"

	"github.com/conneroisu/assetforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
