package main

import (
	"errors"
	"os"

	"github.com/swyddfa/lsp-devtools/cmd/lsp-devtools/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		var exit *cli.ExitCodeError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		os.Exit(1)
	}
}
