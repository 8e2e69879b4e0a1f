// Command agent runs the on-board autopilot session: it maintains the
// serial MAVLink link to the autopilot and exposes the HTTP and realtime
// relay projections of it.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flightpath-dev/autopilot-agent/internal/api"
	"github.com/flightpath-dev/autopilot-agent/internal/config"
	"github.com/flightpath-dev/autopilot-agent/internal/eventlog"
	"github.com/flightpath-dev/autopilot-agent/internal/relay"
	"github.com/flightpath-dev/autopilot-agent/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	evlog := eventlog.New()
	logger := log.New(io.MultiWriter(os.Stdout, evlog), "[agent] ", log.LstdFlags)
	cfg := config.Load(*configPath)

	sess := session.New(cfg, logger, evlog)

	if cfg.MAVLink.ConnectOnStart {
		if err := sess.Connect(); err != nil {
			logger.Printf("startup connect failed: %v", err)
			os.Exit(1)
		}
	}

	var relaySrv *relay.Server
	if cfg.Relay.Enabled {
		relaySrv = relay.New(sess, logger)
		go relaySrv.Run()
	}

	apiServer := api.New(sess, cfg, logger)
	router := apiServer.Router()
	if relaySrv != nil {
		router.Get("/ws", relaySrv.Hub().ServeWS)
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	go func() {
		logger.Printf("listening on %s", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(httpServer, sess, relaySrv, logger)
}

func waitForShutdown(httpServer *http.Server, sess *session.Session, relaySrv *relay.Server, logger *log.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Println("shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)

	if relaySrv != nil {
		relaySrv.Stop()
	}

	if sess.Connected() {
		if err := sess.Disconnect(); err != nil {
			logger.Printf("disconnect on shutdown: %v", err)
		}
	}

	os.Exit(0)
}
