package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	log "github.com/sirupsen/logrus"

	"profsnap/internal/logging"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Failure to parse arguments: %v\n", err)
		return 2
	}
	if cfg.Version {
		fmt.Println(version)
		return 0
	}

	// stdout carries the MCP protocol.
	if err := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	cache, err := newSnapshotCache(uint32(cfg.CacheSize))
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}
	tools := newProfilerTools(cache, cfg)
	defer tools.close()

	s := server.NewMCPServer(
		"profsnap",
		version,
		server.WithLogging(),
		server.WithRecovery(),
	)
	tools.register(s)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	errc := make(chan error, 1)
	go func() {
		errc <- server.ServeStdio(s)
	}()

	log.Infof("profsnap MCP server %s started (cache size %d)", version, cfg.CacheSize)
	select {
	case err := <-errc:
		if err != nil {
			log.Errorf("Server error: %v", err)
			return 1
		}
	case sig := <-sigs:
		log.Infof("Received %s, shutting down", sig)
	}
	return 0
}
