package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/switchboard/internal/config"
	"github.com/mistakeknot/switchboard/internal/dispatch"
	httpapi "github.com/mistakeknot/switchboard/internal/http"
	"github.com/mistakeknot/switchboard/internal/server"
	"github.com/mistakeknot/switchboard/internal/storage/sqlite"
	"github.com/mistakeknot/switchboard/internal/ws"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the switchboard service",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			if path == "" {
				path = config.ResolvePath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	inner, err := sqlite.New(cfg.DBPath, sqlite.Options{
		AverageSessionSeconds: cfg.AverageSessionSeconds,
	})
	if err != nil {
		return fmt.Errorf("store init: %w", err)
	}
	store := sqlite.NewResilient(inner)
	defer store.Close()

	hub := ws.NewHub()
	engine := dispatch.NewEngine(store, cfg, hub)
	svc := httpapi.NewService(store, cfg).
		WithNotifier(hub).
		WithWaker(engine).
		WithEngine(engine)
	router := httpapi.NewRouter(svc, hub.Handler())

	srv, err := server.New(server.Config{
		Addr:       cfg.Addr,
		SocketPath: cfg.SocketPath,
		Handler:    router,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	engine.Start(context.Background())
	defer engine.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	log.Printf("switchboard: listening on %s", cfg.Addr)
	if cfg.SocketPath != "" {
		log.Printf("switchboard: socket at %s", cfg.SocketPath)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("switchboard: %s received, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
