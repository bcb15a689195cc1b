package main

import (
	"context"

	"esmpd/internal/app"
	"esmpd/pkg/config"
	"esmpd/pkg/logger"
	"esmpd/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var version = "dev"

func main() {
	tcpVal, httpVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfg, err := config.Load(cfgVal, !setFlags["config"])
	if err != nil {
		logger.Init("")
		shutdown.Abort("failed to load config", err, "", 0)
	}

	// explicit flags win over config/env when provided by the user
	if setFlags["tcp"] || cfg.Server.TCPAddr == "" {
		cfg.Server.TCPAddr = tcpVal
	}
	if setFlags["http"] || cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = httpVal
	}
	if setFlags["db"] || cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = dbVal
	}

	logger.Init(cfg.Logging.Level)

	a, err := app.New(cfg, version)
	if err != nil {
		shutdown.Abort("startup failed", err, cfg.Storage.DBPath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server failed", err, cfg.Storage.DBPath, 0)
	}
}
