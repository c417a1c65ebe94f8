// Command easystate runs and inspects reactive-state scenarios.
package main

import (
	"os"

	"github.com/roach88/easystate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
