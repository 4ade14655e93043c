package main

import (
	"os"

	"github.com/wonny/aqiguard/cmd/aqiguard/commands"
)

// main is the entry point for the aqiguard CLI
// ⭐ single CLI entry point: go run ./cmd/aqiguard [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
