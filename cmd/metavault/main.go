// Command metavault manages encrypted per-account wallet metadata.
package main

import (
	"os"

	"github.com/roach88/metavault/internal/cli"
)

func main() {
	os.Exit(cli.Main(os.Args[1:], os.Stdout, os.Stderr))
}
