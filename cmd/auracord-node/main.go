// Package main runs the Auracord session node: the libp2p endpoint,
// the session protocol engine, and the local HTTP API the desktop UI
// talks to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/auracord/auracord-node/pkg/api"
	"github.com/auracord/auracord-node/pkg/identity"
	"github.com/auracord/auracord-node/pkg/network"
	"github.com/auracord/auracord-node/pkg/security"
	"github.com/auracord/auracord-node/pkg/storage"
	"github.com/auracord/auracord-node/pkg/transport"
)

func main() {
	// Parse command line flags
	account := flag.String("account", "", "Account identifier the peer identity derives from (required)")
	username := flag.String("username", "", "Display name (2-20 chars, letters/digits/space/underscore/dot)")
	port := flag.Int("port", 9100, "libp2p listen port")
	apiPort := flag.Int("api-port", 8087, "HTTP API port")
	dataDir := flag.String("data", "./auracord-data", "Data directory for the chat database")
	bootstrap := flag.String("bootstrap", "", "Comma-separated bootstrap peer multiaddrs")
	enableCORS := flag.Bool("cors", true, "Enable CORS headers")
	rateLimit := flag.Int("rate-limit", 300, "HTTP rate limit (requests per minute)")

	flag.Parse()

	fmt.Println("🚀 Auracord Session Node")
	fmt.Println("========================")
	fmt.Println()

	if *account == "" {
		log.Fatal("Missing required -account flag")
	}
	if *username != "" && !security.ValidateUsername(*username) {
		log.Fatalf("Invalid username %q", *username)
	}

	// Derive the stable peer identity from the account.
	ident, err := identity.Derive(*account)
	if err != nil {
		log.Fatalf("Failed to derive identity: %v", err)
	}
	fmt.Printf("🪪 Peer identity: %s\n", ident)

	// Open the local chat database.
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	db, err := storage.NewChatDB(filepath.Join(*dataDir, "chat.db"))
	if err != nil {
		log.Fatalf("Failed to open chat database: %v", err)
	}
	defer db.Close()

	var bootstrapPeers []string
	if *bootstrap != "" {
		bootstrapPeers = strings.Split(*bootstrap, ",")
	}

	tp := transport.NewLibp2pTransport(transport.Libp2pConfig{
		Identity:       ident,
		Port:           *port,
		BootstrapPeers: bootstrapPeers,
	})

	name := *username
	if name == "" {
		name = "Anonymous"
	}
	engine := network.NewEngine(tp, db, transport.NewStubDevices(), name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		if errors.Is(err, transport.ErrIdentityClaimed) {
			// The engine stays up read-only; history remains browsable.
			fmt.Println("⚠️  This account is already active in another session.")
			fmt.Println("   Running read-only until the other session ends.")
		} else {
			log.Fatalf("Failed to start session engine: %v", err)
		}
	}

	apiConfig := &api.Config{
		Port:       *apiPort,
		EnableCORS: *enableCORS,
		RateLimit:  *rateLimit,
	}
	apiServer := api.NewServer(engine, apiConfig)

	go func() {
		if err := apiServer.Start(ctx); err != nil {
			log.Printf("API server error: %v", err)
		}
	}()

	fmt.Println()
	fmt.Println("✅ Node is ready!")
	fmt.Println()
	fmt.Println("API Endpoints:")
	fmt.Printf("  GET    http://localhost:%d/api/v1/status\n", *apiPort)
	fmt.Printf("  POST   http://localhost:%d/api/v1/connections\n", *apiPort)
	fmt.Printf("  POST   http://localhost:%d/api/v1/friends/requests\n", *apiPort)
	fmt.Printf("  POST   http://localhost:%d/api/v1/messages\n", *apiPort)
	fmt.Printf("  POST   http://localhost:%d/api/v1/messages/:id/reactions\n", *apiPort)
	fmt.Printf("  PUT    http://localhost:%d/api/v1/profile/name\n", *apiPort)
	fmt.Printf("  POST   http://localhost:%d/api/v1/call\n", *apiPort)
	fmt.Printf("  GET    http://localhost:%d/health\n", *apiPort)
	fmt.Println()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh

	fmt.Println("\n🛑 Shutting down...")
	cancel()

	if err := engine.Stop(); err != nil {
		fmt.Printf("Error stopping engine: %v\n", err)
	}

	fmt.Println("👋 Goodbye!")
}
