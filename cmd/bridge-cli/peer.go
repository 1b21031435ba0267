package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(peerCmd)
	peerCmd.AddCommand(peerAddCmd)
	peerCmd.AddCommand(peerListCmd)
}

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Manage known peer client ids",
}

var peerAddCmd = &cobra.Command{
	Use:   "add <client-id>",
	Short: "Remember a peer's hex-encoded public key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clientID := args[0]
		if err := validatePeerID(clientID); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		for _, existing := range cfg.Session.PeerClientIDs {
			if existing == clientID {
				fmt.Println("peer already known")
				return nil
			}
		}
		cfg.Session.PeerClientIDs = append(cfg.Session.PeerClientIDs, clientID)

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("added peer %s\n", clientID)
		return nil
	},
}

var peerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known peer client ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if len(cfg.Session.PeerClientIDs) == 0 {
			fmt.Println("no peers known yet, run 'bridge-cli peer add <client-id>'")
			return nil
		}
		for _, id := range cfg.Session.PeerClientIDs {
			fmt.Println(id)
		}
		return nil
	},
}
