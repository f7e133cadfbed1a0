package main

import (
	"os"

	"agentseal/cmd/agentseal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
