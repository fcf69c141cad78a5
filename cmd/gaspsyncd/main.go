// Command gaspsyncd runs a GASP sync node: it serves the four
// peer-facing operations over HTTP and periodically syncs against any
// configured peers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/gookit/slog"

	"github.com/bsv-blockchain/go-sdk/transaction/chaintracker"

	"github.com/bsv-blockchain/gasp-sync/pkg/gasp"
	"github.com/bsv-blockchain/gasp-sync/pkg/gasp/httpremote"
	"github.com/bsv-blockchain/gasp-sync/pkg/gasp/memstore"
	"github.com/bsv-blockchain/gasp-sync/pkg/gaspconfig"
	"github.com/bsv-blockchain/gasp-sync/pkg/gaspserver"
)

func main() {
	configPath := flag.String("config", gaspconfig.DefaultConfigFilePath, "path to config file")
	flag.Parse()

	loader := gaspconfig.NewLoader("GASP")
	if err := loader.SetConfigFilePath(*configPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	configureLogger(cfg.LoggerConfig)

	// This command always hands memstore a nil chaintracker.ChainTracker;
	// cfg.StorageConfig.ChainTracker is not read. Without a tracker, a
	// graph leaf is accepted only if it is a trusted root, or carries no
	// proof and spends only already-known UTXOs; a leaf with a chain proof
	// is rejected unless it is a trusted root.
	var tracker chaintracker.ChainTracker
	store := memstore.New(tracker)
	if cfg.StorageConfig.MaxNodesInGraph > 0 {
		max := cfg.StorageConfig.MaxNodesInGraph
		store.MaxNodesInGraph = &max
	}

	engine := gasp.NewEngine(gasp.EngineParams{
		Storage:         store,
		LastInteraction: cfg.EngineConfig.LastInteraction,
		LogPrefix:       cfg.EngineConfig.LogPrefix,
		Unidirectional:  cfg.EngineConfig.Unidirectional,
		Version:         cfg.EngineConfig.Version,
		Concurrency:     cfg.EngineConfig.Concurrency,
	})

	srv := gaspserver.New(cfg.AdminToken)
	srv.Register(cfg.EngineConfig.Topic, engine)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
		slog.Infof("gaspsyncd listening on %s", addr)
		if err := srv.App.Listen(addr); err != nil {
			slog.Errorf("http server stopped: %v", err)
		}
	}()

	runSyncLoop(context.Background(), engine, cfg)
}

func runSyncLoop(ctx context.Context, engine *gasp.Engine, cfg gaspconfig.ServerConfig) {
	if len(cfg.Peers) == 0 {
		slog.Warn("no peers configured, sync loop idle")
		select {}
	}

	interval := time.Duration(cfg.SyncInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, peer := range cfg.Peers {
			engine.SetRemote(httpremote.New(peer.BaseURL, peer.Topic))
			slog.Infof("syncing against peer %s (%s)", peer.Name, peer.BaseURL)
			if err := engine.Sync(ctx); err != nil {
				slog.Errorf("sync against %s failed: %v", peer.Name, err)
			}
		}
		<-ticker.C
	}
}

func configureLogger(cfg gaspconfig.LoggerConfig) {
	slog.SetLogLevel(logLevel(cfg.Level))
	slog.SetFormatter(slog.NewJSONFormatter(func(f *slog.JSONFormatter) {
		f.PrettyPrint = cfg.PrettyPrint
	}))
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.DebugLevel
	case "warn", "warning":
		return slog.WarnLevel
	case "error":
		return slog.ErrorLevel
	default:
		return slog.InfoLevel
	}
}
