package main

import (
	"os"

	"github.com/lazypower/foresight/internal/cli"
	"github.com/lazypower/foresight/internal/logging"
)

func main() {
	if err := cli.Execute(); err != nil {
		logging.Err(err).Msg("foresight")
		os.Exit(1)
	}
}
