// Command setupctl is the operator client for a setupwatch server. It submits
// proposals and prices, inspects setups and lessons, and reads a local
// journal database.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
