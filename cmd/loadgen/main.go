package main

import (
	"os"

	"github.com/volcanion-company/volcanion-load-engine/cmd/loadgen/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
