// Command tachocheck evaluates tachograph parser output from the command line.
package main

import (
	"os"

	"example.com/tachograph/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
