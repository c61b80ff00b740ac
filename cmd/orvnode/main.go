package main

import (
	"os"

	"github.com/orvnode/orv/cmd/orvnode/commands"
	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/libs/log"
)

func main() {
	conf := config.DefaultConfig()

	logger, err := log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
	if err != nil {
		panic(err)
	}

	rcmd := commands.RootCommand(conf, logger)
	rcmd.AddCommand(
		commands.MakeInitCommand(conf, logger),
		commands.MakeRunNodeCommand(conf, logger),
		commands.VersionCmd,
	)

	if err := rcmd.Execute(); err != nil {
		os.Exit(1)
	}
}
