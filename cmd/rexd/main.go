package main

import (
	"os"

	"github.com/bnema/rexd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
