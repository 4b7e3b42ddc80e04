// admin is the operator's companion CLI to cmd/acmeserver, replacing
// the teacher's SQL user-management tool: it inspects the CA key pair,
// computes account-key thumbprints, and runs an in-process new-account
// call against a scratch engine for smoke-testing a configuration
// before it goes live.
package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"

	"github.com/adamscao/acmeserver/internal/acme"
	"github.com/adamscao/acmeserver/internal/ca"
	"github.com/adamscao/acmeserver/internal/config"
	"github.com/adamscao/acmeserver/internal/nonce"
	"github.com/adamscao/acmeserver/internal/store"
	"github.com/adamscao/acmeserver/internal/transport"
	"github.com/adamscao/acmeserver/pkg/thumbprint"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "ACME server administration tool",
	Long:  "Administrative tool for inspecting the CA key pair and smoke-testing an ACME server configuration",
}

var caInfoCmd = &cobra.Command{
	Use:   "ca-info",
	Short: "Print the configured CA certificate's subject, serial, and validity window",
	RunE:  runCAInfo,
}

var thumbprintCmd = &cobra.Command{
	Use:   "thumbprint <jwk-json-file>",
	Short: "Compute the hex JWK thumbprint used as an account id",
	Args:  cobra.ExactArgs(1),
	RunE:  runThumbprint,
}

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run an in-process new-account call against the configured CA to validate wiring",
	RunE:  runSelftest,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Config file path")
	rootCmd.AddCommand(caInfoCmd, thumbprintCmd, selftestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithEnv(configPath)
}

func runCAInfo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kp, err := ca.LoadOrGenerateKeyPair(cfg.CA.KeyPath, cfg.CA.CertPath, cfg.CA.KeyType)
	if err != nil {
		return fmt.Errorf("failed to load CA key pair: %w", err)
	}

	bold := color.New(color.Bold)
	bold.Println("CA certificate")
	fmt.Printf("  subject:    %s\n", kp.Cert.Subject.CommonName)
	fmt.Printf("  serial:     %s\n", kp.Cert.SerialNumber.Text(16))
	fmt.Printf("  key type:   %s\n", kp.KeyType)
	fmt.Printf("  not before: %s\n", kp.Cert.NotBefore.Format(time.RFC3339))
	fmt.Printf("  not after:  %s\n", kp.Cert.NotAfter.Format(time.RFC3339))
	return nil
}

func runThumbprint(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read JWK file: %w", err)
	}

	jwk := &jose.JSONWebKey{}
	if err := json.Unmarshal(data, jwk); err != nil {
		return fmt.Errorf("failed to parse JWK: %w", err)
	}
	if !jwk.Valid() {
		return fmt.Errorf("JWK is not a valid key")
	}

	hex, err := thumbprint.Hex(jwk)
	if err != nil {
		return fmt.Errorf("failed to compute thumbprint: %w", err)
	}
	color.Green("%s", hex)
	return nil
}

func runSelftest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.ACME.Challenges.Auto = true

	kp, err := ca.LoadOrGenerateKeyPair(cfg.CA.KeyPath, cfg.CA.CertPath, cfg.CA.KeyType)
	if err != nil {
		return fmt.Errorf("failed to load CA key pair: %w", err)
	}
	signer := ca.New(kp)
	engine := acme.New(cfg, store.New(), signer, nonce.New())

	accountKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate scratch account key: %w", err)
	}
	jwk := &jose.JSONWebKey{Key: &accountKey.PublicKey, Algorithm: "ES256"}
	thumb, err := thumbprint.Hex(jwk)
	if err != nil {
		return err
	}

	resp := engine.NewAccount(&transport.Request{
		Thumbprint: thumb,
		AccountKey: jwk,
		Payload:    map[string]any{"contact": []any{"mailto:admin@example.com"}},
	})
	color.Cyan("new-account -> %d", resp.Status)

	color.Green("selftest wiring OK (account thumbprint %s)", thumb)
	return nil
}
