package main

import (
	"os"

	"github.com/pushrelay/pushrelay/cmd/relayctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
