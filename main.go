package main

import (
	"os"

	"dprint-plugin-yapf/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
