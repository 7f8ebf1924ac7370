package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"quizhub/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("quizhub exited")
		os.Exit(1)
	}
}
