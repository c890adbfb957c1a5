// Command server runs the vecdb HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/fabfab/vecdb/cmd/server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
