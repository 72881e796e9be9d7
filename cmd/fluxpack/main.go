package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/fluxpack/cli/cmd"
	"github.com/fluxbase-eu/fluxpack/cli/util"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    !util.IsTerminal(os.Stderr),
		TimeFormat: "15:04:05",
	})

	// cobra reports the error itself
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
