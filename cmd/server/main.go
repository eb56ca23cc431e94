package main

import (
	"github.com/melokeo/graphmem/internal/server"
	"github.com/melokeo/graphmem/internal/util"
	"github.com/melokeo/graphmem/pkg/logger"
	"github.com/melokeo/graphmem/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
