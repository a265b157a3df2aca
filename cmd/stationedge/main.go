package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stationedge/config"
	"stationedge/engine"
	"stationedge/store"
	"stationedge/www"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "stationedge.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	if err := run(*configPath, *port, *debug); err != nil {
		log.Fatalf("stationedge: %v", err)
	}
}

func run(configPath string, port int, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port > 0 {
		cfg.Web.Port = port
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Unattended installs seed the admin account from the environment;
	// otherwise the first web login creates it.
	if user, pass := os.Getenv("STATIONEDGE_ADMIN_USER"), os.Getenv("STATIONEDGE_ADMIN_PASSWORD"); user != "" && pass != "" {
		created, err := www.EnsureAdmin(db, user, pass)
		if err != nil {
			return fmt.Errorf("seed admin user: %w", err)
		}
		if created {
			log.Printf("admin user %q created from environment", user)
		}
	}

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: configPath,
		DB:         db,
		LogFunc:    log.Printf,
		Debug:      debug,
		Version:    version,
	})
	eng.Start()
	defer eng.Stop()

	router, stopWeb := www.NewRouter(eng)
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("stationedge %s listening on %s (station=%s)", version, addr, cfg.StationID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("received %v, shutting down", sig)
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	// SSE streams are long-lived; end them before the graceful shutdown.
	stopWeb()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
	return nil
}
