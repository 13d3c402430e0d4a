// Command meshview serves the browser model viewer and provides headless
// convert and inspect commands.
package main

import (
	"os"

	"github.com/flywave/meshview/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
