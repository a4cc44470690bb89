package cmd

import (
	"context"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/StanfordSNR/puffer-sub000/config"
	"github.com/StanfordSNR/puffer-sub000/internal/abr"
	"github.com/StanfordSNR/puffer-sub000/internal/channel"
	"github.com/StanfordSNR/puffer-sub000/internal/statusws"
	"github.com/StanfordSNR/puffer-sub000/internal/util"
	"github.com/StanfordSNR/puffer-sub000/internal/wsserver"
)

// statusPushInterval is how often the operational status feed refreshes.
const statusPushInterval = 2 * time.Second

// shutdownGrace bounds how long Shutdown waits for connections to drain
// before forcing them closed.
const shutdownGrace = 5 * time.Second

// runServer loads configPath, binds the player and status listeners for
// serverIDStr, and serves until SIGINT/SIGTERM or a fatal error.
func runServer(configPath, serverIDStr, exptID string) error {
	util.InitLogger(verbose)
	util.SetupGlobalLogger()
	logger := util.GetLogger()

	serverID, err := strconv.Atoi(serverIDStr)
	if err != nil {
		return errors.Wrapf(err, "invalid server_id %q", serverIDStr)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	channelConfigs := make([]channel.Config, 0, len(cfg.Channels))
	for _, name := range cfg.Channels {
		cc, err := cfg.ChannelConfigFor(name)
		if err != nil {
			return errors.Wrap(err, "resolve channel config")
		}
		channelConfigs = append(channelConfigs, cc)
	}

	registry, err := channel.NewRegistry(channelConfigs, logger)
	if err != nil {
		return errors.Wrap(err, "init channel registry")
	}
	defer registry.Close()

	wsOpts := wsserver.DefaultOptions()
	wsOpts.DefaultABR = cfg.ABR
	wsOpts.ABROptions = abr.Options(cfg.ABROptions)
	wsOpts.ModelDir = cfg.ModelDir
	wsOpts.MaxBufferS = cfg.MaxBufferS

	wsAddr := fmt.Sprintf(":%d", cfg.WSBasePort+serverID)
	server, err := wsserver.New(wsAddr, registry, wsOpts, logger)
	if err != nil {
		return errors.Wrap(err, "bind websocket listener")
	}

	statusMux := http.NewServeMux()
	statusMux.Handle("/status/ws", statusws.Handler(server, statusPushInterval, logger))
	statusErrLog := util.NewPrefixLogWriter("status-http")
	statusSrv := &http.Server{
		Addr:     fmt.Sprintf(":%d", cfg.StatusWSPort+serverID),
		Handler:  statusMux,
		ErrorLog: stdlog.New(statusErrLog, "", 0),
	}
	go func() {
		if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("status server stopped", "error", err)
		}
	}()

	logArgs := []any{"addr", wsAddr, "status_addr", statusSrv.Addr, "server_id", serverID}
	if exptID != "" {
		logArgs = append(logArgs, "expt_id", exptID)
	}
	logger.Info("media server listening", logArgs...)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return errors.Wrap(err, "serve")
		}
		return nil
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	_ = statusSrv.Shutdown(ctx)

	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "drain connections")
	}
	return nil
}
