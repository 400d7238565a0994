//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZentaChain/zentalk-lite/pkg/api"
	"github.com/ZentaChain/zentalk-lite/pkg/config"
	"github.com/ZentaChain/zentalk-lite/pkg/network"
	"github.com/ZentaChain/zentalk-lite/pkg/storage"
)

const heartbeatInterval = 5 * time.Minute

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	listen     = flag.String("listen", config.DefaultListen, "Listen address (host:port or /ip4/<ip>/tcp/<port>)")
	capacity   = flag.Int("capacity", network.DefaultCapacity, "Maximum concurrent clients")
	statusAddr = flag.String("status", "", "HTTP status API address (disabled if empty)")
	auditDB    = flag.String("audit", "", "SQLite delivery log path (disabled if empty)")
)

func main() {
	flag.Parse()

	printBanner()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	relayConfig, err := cfg.RelayConfig()
	if err != nil {
		log.Fatalf("Invalid listen address: %v", err)
	}

	relay := network.NewRelayServer(relayConfig)
	if err := relay.Listen(); err != nil {
		log.Fatalf("Failed to start relay server: %v", err)
	}

	var deliveryLog *storage.DeliveryLog
	if cfg.AuditDB != "" {
		deliveryLog, err = storage.NewDeliveryLog(cfg.AuditDB, storage.DefaultQueueSize)
		if err != nil {
			log.Fatalf("Failed to open delivery log: %v", err)
		}
		relay.AttachDeliveryLog(deliveryLog)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var apiDone chan error
	if cfg.StatusAddr != "" {
		apiConfig := api.DefaultConfig()
		apiConfig.Addr = cfg.StatusAddr

		var summarizer api.DeliverySummarizer
		if deliveryLog != nil {
			summarizer = deliveryLog
		}
		apiServer := api.NewServer(relay, summarizer, apiConfig)

		apiDone = make(chan error, 1)
		go func() { apiDone <- apiServer.Start(ctx) }()
	}

	go startHeartbeatLoop(ctx, relay)

	printStatus(cfg, relay)
	log.Println("✅ Serveur démarré, en attente de connexions...")

	serveErr := relay.Serve(ctx)
	stop()

	if apiDone != nil {
		if err := <-apiDone; err != nil {
			log.Printf("Status API error: %v", err)
		}
	}

	if deliveryLog != nil {
		if err := deliveryLog.Close(); err != nil {
			log.Printf("Error closing delivery log: %v", err)
		} else {
			log.Println("✓ Delivery log closed")
		}
	}

	if serveErr != nil {
		log.Fatalf("Relay server failed: %v", serveErr)
	}
	log.Println("Goodbye! 👋")
}

// loadConfig layers the config file, then explicitly set flags, over defaults
func loadConfig() (*config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if *configPath != "" {
		loaded, err := config.LoadServerConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listen
		case "capacity":
			cfg.Capacity = *capacity
		case "status":
			cfg.StatusAddr = *statusAddr
		case "audit":
			cfg.AuditDB = *auditDB
		}
	})

	return cfg, cfg.Validate()
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║          Zentalk Lite Chat Relay v1.0            ║")
	fmt.Println("║   End-to-end encrypted, the relay holds no key   ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func startHeartbeatLoop(ctx context.Context, relay *network.RelayServer) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := relay.Stats()
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("💓 Heartbeat")
		log.Printf("   Connected clients: %d/%d %v", stats.Connected, stats.Capacity, stats.Identities)
		log.Printf("   Messages relayed: %d", stats.Routing.Routed)
		log.Printf("   Unknown destinations: %d", stats.Routing.NotFound)
		log.Printf("   Rejected connections: %d", stats.Rejected)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

func printStatus(cfg *config.ServerConfig, relay *network.RelayServer) {
	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("🚀 Relay Server Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("   Listening: %s\n", relay.Addr())
	fmt.Printf("   Capacity: %d clients\n", cfg.Capacity)
	if cfg.StatusAddr != "" {
		fmt.Printf("   Status API: http://%s/health\n", cfg.StatusAddr)
	} else {
		fmt.Printf("   Status API: ⚠️  DISABLED\n")
	}
	if cfg.AuditDB != "" {
		fmt.Printf("   Delivery log: %s\n", cfg.AuditDB)
	} else {
		fmt.Printf("   Delivery log: ⚠️  DISABLED\n")
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()
}
