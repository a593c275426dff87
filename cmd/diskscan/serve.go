package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

type serveCmd struct {
	appCmd
	Port int    `short:"p" long:"port" env:"DISKSCAN_PORT" description:"Port to listen on"`
	Bind string `short:"b" long:"bind" description:"Address to bind to"`
}

func (cmd *serveCmd) Execute(_ []string) error {
	opts := cmd.opts
	opts.Port = cmd.Port
	opts.BindAddress = cmd.Bind

	server, err := createServer(opts)
	if err != nil {
		return errors.Wrap(err, "failed to start")
	}
	defer server.Cleanup()

	if geteuid() != 0 {
		server.Logger.Warn("not running as root; deep scans will be unable to mount partitions")
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		server.Logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.HTTP.Shutdown(ctx); err != nil {
			server.Logger.Error("shutdown error", "error", err)
		}
	}()

	server.Logger.Info("server listening", "url", "http://"+server.HTTP.Addr)
	if err := server.HTTP.ListenAndServe(); err != http.ErrServerClosed {
		return errors.Wrap(err, "server error")
	}

	server.Logger.Info("server stopped")
	return nil
}
