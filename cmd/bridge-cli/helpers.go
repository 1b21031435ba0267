package main

import (
	"encoding/hex"
	"fmt"
	"os"

	bridge "github.com/ton-connect/bridge-sdk-go"
)

// requireConfig loads the config file or exits with a helpful message.
func requireConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.BridgeURL == "" {
		fmt.Fprintln(os.Stderr, "no bridge url configured. Run 'bridge-cli init <bridge-url>' first.")
		os.Exit(1)
	}
	return cfg
}

// loadSession restores the local CryptoSession from the configured private
// key, or exits if none has been generated yet.
func loadSession(cfg *Config) *bridge.CryptoSession {
	if cfg.Session.PrivateKeyHex == "" {
		fmt.Fprintln(os.Stderr, "no session key found. Run 'bridge-cli init <bridge-url>' first.")
		os.Exit(1)
	}
	session, err := bridge.RestoreCryptoSession(cfg.Session.PrivateKeyHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to restore session: %v\n", err)
		os.Exit(1)
	}
	return session
}

// validatePeerID checks that a string looks like a hex-encoded 32-byte
// public key before it is persisted or dialed.
func validatePeerID(id string) error {
	raw, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("clientId must be hex: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("clientId must decode to 32 bytes, got %d", len(raw))
	}
	return nil
}
