package main

import (
	"os"

	"github.com/MrEthical07/loginhook/cmd/loginhookctl/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
