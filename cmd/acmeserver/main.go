// Command acmeserver runs the ACME issuance server: load configuration
// and the CA key pair, wire the in-memory object store, nonce pool and
// protocol engine together, and serve the HTTP surface until
// interrupted. Modeled directly on the teacher's cmd/caserver/main.go.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/adamscao/acmeserver/internal/acme"
	"github.com/adamscao/acmeserver/internal/api"
	"github.com/adamscao/acmeserver/internal/ca"
	"github.com/adamscao/acmeserver/internal/config"
	"github.com/adamscao/acmeserver/internal/nonce"
	"github.com/adamscao/acmeserver/internal/store"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ACME Server\nVersion: %s\nCommit:  %s\n", Version, Commit)
		os.Exit(0)
	}

	log.Printf("Starting ACME server %s (commit: %s)", Version, Commit)

	log.Printf("Loading configuration from %s", *configPath)
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Loading CA key pair from %s", cfg.CA.KeyPath)
	keyPair, err := ca.LoadOrGenerateKeyPair(cfg.CA.KeyPath, cfg.CA.CertPath, cfg.CA.KeyType)
	if err != nil {
		log.Fatalf("Failed to load/generate CA key pair: %v", err)
	}
	log.Printf("CA key pair loaded successfully (type: %s)", keyPair.KeyType)

	signer := ca.New(keyPair)
	objectStore := store.New()
	nonces := nonce.New()
	engine := acme.New(cfg, objectStore, signer, nonces)

	server := api.NewServer(cfg, engine)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting HTTP server on %s", cfg.Server.ListenAddr)
		if err := server.Run(); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("ACME server is running")
	log.Printf("Press Ctrl+C to shut down")

	<-quit
	log.Printf("Server stopped")
}
