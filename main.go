package main

import (
	"github.com/rs/zerolog/log"

	"scuffedchat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute scuffedchat command")
	}
}
