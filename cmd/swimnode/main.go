// Command swimnode runs a standalone SWIM membership node: it binds
// a UDP transport, joins a seed list, and exposes a small debug HTTP
// surface.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
