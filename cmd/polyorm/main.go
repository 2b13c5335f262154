// Command polyorm lists, inspects and exercises the registered providers.
package main

import (
	"fmt"
	"os"

	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, orm.FormatError(err))
		os.Exit(1)
	}
}
