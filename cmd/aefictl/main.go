// Command aefictl drives an aefi stage agent over its HTTP API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "aefictl:", err)
		os.Exit(1)
	}
}
