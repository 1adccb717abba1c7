package main

import (
	"os"

	"github.com/majorcontext/eccs-e2e/cmd/eccs-e2e/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
