package main

import (
	"os"

	"github.com/sampleapp-dev/sampleinfra/pkg/cli"
	"github.com/sampleapp-dev/sampleinfra/pkg/printer"
)

func main() {
	if err := cli.Root().Execute(); err != nil {
		printer.PrintError(err.Error())
		os.Exit(1)
	}
}
