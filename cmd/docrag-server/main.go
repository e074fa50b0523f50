package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"docrag/internal/app"
	"docrag/internal/config"
	"docrag/internal/httpapi"
	"docrag/internal/logging"
	"docrag/internal/watcher"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath  string
		addr     string
		watchDir string
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional)")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	flag.StringVar(&watchDir, "watch", "", "Directory to index on start and re-index on change")
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)
	if watchDir != "" {
		if _, err := a.Service.ProcessDocuments(ctx, []string{watchDir}); err != nil {
			logger.Warn("initial indexing failed", "path", watchDir, "error", err)
		}
		w, err := watcher.New(watchDir, watcher.Reindex(watchDir, a.Service, logger), watcher.Config{Logger: logger})
		if err != nil {
			log.Fatalf("failed to watch %s: %v", watchDir, err)
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	server := httpapi.NewServer(cfg.Server.Addr, httpapi.NewApp(a.Service, a.Registry, logger), logger)
	g.Go(func() error { return server.Run(ctx) })

	if err := g.Wait(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
