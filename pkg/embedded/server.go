// Package embedded runs a switchboard instance in-process, for host
// applications that want the queue without a separate daemon.
package embedded

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mistakeknot/switchboard/internal/config"
	"github.com/mistakeknot/switchboard/internal/dispatch"
	httpapi "github.com/mistakeknot/switchboard/internal/http"
	"github.com/mistakeknot/switchboard/internal/storage/sqlite"
	"github.com/mistakeknot/switchboard/internal/ws"
)

// Config narrows the service configuration to what embedding hosts care
// about. Zero values take the service defaults.
type Config struct {
	// DBPath is the SQLite database file. Empty means an in-memory store
	// that vanishes with the process.
	DBPath string

	// Addr is the listen address. Empty means a random localhost port.
	Addr string

	// OfferTTL overrides how long offers stay open.
	OfferTTL time.Duration

	// DispatchInterval overrides the control loop's fallback interval.
	DispatchInterval time.Duration
}

type Server struct {
	store   *sqlite.ResilientStore
	hub     *ws.Hub
	engine  *dispatch.Engine
	http    *http.Server
	ln      net.Listener
	mu      sync.Mutex
	started bool
}

func New(cfg Config) (*Server, error) {
	svcCfg := config.Default()
	if cfg.OfferTTL > 0 {
		svcCfg.OfferTTL = cfg.OfferTTL
	}
	if cfg.DispatchInterval > 0 {
		svcCfg.DispatchInterval = cfg.DispatchInterval
	}

	opts := sqlite.Options{AverageSessionSeconds: svcCfg.AverageSessionSeconds}
	var inner *sqlite.Store
	var err error
	if cfg.DBPath == "" {
		inner, err = sqlite.NewInMemory(opts)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		inner, err = sqlite.New(cfg.DBPath, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	store := sqlite.NewResilient(inner)

	hub := ws.NewHub()
	engine := dispatch.NewEngine(store, svcCfg, hub)
	svc := httpapi.NewService(store, svcCfg).
		WithNotifier(hub).
		WithWaker(engine).
		WithEngine(engine)
	router := httpapi.NewRouter(svc, hub.Handler())

	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	return &Server{
		store:  store,
		hub:    hub,
		engine: engine,
		http:   &http.Server{Handler: router},
		ln:     ln,
	}, nil
}

// Start serves in a goroutine and starts the dispatch loop. Calling Start
// twice is a no-op.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	s.engine.Start(context.Background())
	go func() {
		if err := s.http.Serve(s.ln); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "switchboard embedded: %v\n", err)
		}
	}()
}

// Stop drains the HTTP server, stops the dispatch loop, and closes the
// store.
func (s *Server) Stop() error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return s.store.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.http.Shutdown(ctx)
	s.engine.Stop()
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// URL returns the base URL for the server.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.Addr())
}
