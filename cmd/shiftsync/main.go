package main

import (
	"fmt"
	"os"

	"github.com/roach88/shiftsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "shiftsync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
