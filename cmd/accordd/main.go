// Command accordd runs the Accord group chat broker: it loads the
// server configuration, connects to Postgres, binds the listener, and
// runs the central arbiter until interrupted.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/LoipesMas/accord/internal/acceptor"
	"github.com/LoipesMas/accord/internal/arbiter"
	"github.com/LoipesMas/accord/internal/config"
	"github.com/LoipesMas/accord/internal/logging"
	"github.com/LoipesMas/accord/internal/store"
)

const (
	exitOK              = 0
	exitBadConfig       = 1
	exitDatabaseConnect = 2
	exitBindFailure     = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	noTUI := flag.Bool("no-tui", false, "disable the interactive console")
	logToFile := flag.Bool("log-to-file", false, "mirror logs to a file alongside stderr")
	logLevel := flag.String("log-level", "INFO", "DEBUG, INFO, NOTICE, WARNING, ERROR, or CRITICAL")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "accordd: failed to load config: %v\n", err)
		return exitBadConfig
	}

	configDir, err := config.Dir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "accordd: failed to resolve config directory: %v\n", err)
		return exitBadConfig
	}
	logFile := filepath.Join(configDir, "accordd.log")
	logBackend, err := logging.New(logFile, *logLevel, *logToFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "accordd: failed to initialize logging: %v\n", err)
		return exitBadConfig
	}
	defer logBackend.Close()
	log := logBackend.GetLogger("accordd")

	if *noTUI {
		log.Info("interactive console disabled (--no-tui)")
	}

	pg, err := store.Open(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)
	if err != nil {
		log.Errorf("database connection failed: %v", err)
		return exitDatabaseConnect
	}
	defer pg.Close()

	imageCachePath := filepath.Join(configDir, "image_cache.db")
	imageCache, err := store.NewImageCache(imageCachePath, pg)
	if err != nil {
		log.Errorf("image cache init failed: %v", err)
		return exitDatabaseConnect
	}
	defer imageCache.Close()

	arb, err := arbiter.New(logBackend.GetLogger("arbiter"), pg, imageCache, cfg)
	if err != nil {
		log.Errorf("failed to start arbiter: %v", err)
		return exitBadConfig
	}
	arb.Start()
	defer arb.Halt()

	port := config.DefaultPort
	if cfg.Port != nil {
		port = *cfg.Port
	}
	listenAddr := fmt.Sprintf(":%d", port)

	acc, err := acceptor.Bind(listenAddr, arb, logBackend.GetLogger)
	if err != nil {
		log.Errorf("bind failed: %v", err)
		return exitBindFailure
	}
	log.Infof("listening on %s", acc.Addr())
	acc.Start()
	defer acc.Halt()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return exitOK
}
