package main

import (
	"os"

	"github.com/pipesight/pipesight/cmd/pipesight/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
