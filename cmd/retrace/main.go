package main

import (
	"os"

	"github.com/roach88/retrace/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		format, _ := cmd.PersistentFlags().GetString("format")
		os.Exit(cli.WriteError(os.Stderr, format, err))
	}
}
