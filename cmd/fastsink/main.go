// Command fastsink runs the fastsink demo host.
package main

import (
	"fmt"
	"os"

	"github.com/drgolem/fastsink/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
