package main

import (
	"context"
	"log"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"nostrgraph/internal/app"
	"nostrgraph/pkg/config"
	"nostrgraph/pkg/logger"
	"nostrgraph/pkg/shutdown"
)

func main() {
	// build metadata - set via ldflags during build/release
	var version = "dev"

	_ = godotenv.Load(".env")
	addrVal, dataVal, cfgVal, resumeVal, globalVal, contVal, setFlags := config.ParseCommandFlags()

	// config file flag wins over env
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// flags win over config/env when explicitly set
	if setFlags["addr"] {
		applyAddr(cfg, addrVal)
	}
	if setFlags["data"] || cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = dataVal
	}
	if setFlags["resume"] {
		cfg.Ingest.Resume = resumeVal
	}
	if setFlags["global-subs"] {
		cfg.Gateway.GlobalSubscriptions = globalVal
	}
	if setFlags["continue-subs"] {
		cfg.Gateway.ContinueSubscriptions = contVal
	}

	logger.InitWithLevel(cfg.Logging.Level)

	var srcs []string
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if _, err := os.Stat(cfgPath); err == nil {
		srcs = append(srcs, "config")
	}

	a, err := app.New(cfg, strings.Join(srcs, ","), version)
	if err != nil {
		shutdown.Abort("startup failed", err, cfg.Storage.DataDir, 0)
	}

	ctx, stop := shutdown.SetupSignalHandler(context.Background())
	defer stop()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server exited", err, cfg.Storage.DataDir, 0)
	}
}

// applyAddr splits a host:port flag value onto the config listener fields.
func applyAddr(cfg *config.Config, addr string) {
	if h, p, err := net.SplitHostPort(addr); err == nil {
		cfg.Server.Address = h
		if pi, err := strconv.Atoi(p); err == nil {
			cfg.Server.Port = pi
		}
		return
	}
	cfg.Server.Address = addr
}
