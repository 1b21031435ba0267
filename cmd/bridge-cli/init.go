package main

import (
	"fmt"

	"github.com/spf13/cobra"

	bridge "github.com/ton-connect/bridge-sdk-go"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <bridge-url>",
	Short: "Generate a session key pair and store the bridge url",
	Long:  "Initialize bridge-cli by generating a NaCl box key pair and storing it,\nalong with the relay's bridge url, in ~/.bridge-cli/config.toml.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bridgeURL := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Session.PrivateKeyHex == "" {
			session, err := bridge.NewCryptoSession()
			if err != nil {
				return fmt.Errorf("failed to generate session key pair: %w", err)
			}
			cfg.Session.PrivateKeyHex = session.PrivateKeyHex()
			fmt.Printf("generated session id (share this with your peer): %s\n", session.SessionID())
		} else {
			session, err := bridge.RestoreCryptoSession(cfg.Session.PrivateKeyHex)
			if err != nil {
				return fmt.Errorf("failed to restore existing session: %w", err)
			}
			fmt.Printf("reusing existing session id: %s\n", session.SessionID())
		}

		cfg.Default.BridgeURL = bridgeURL
		if cfg.Default.HeartbeatSeconds == 0 {
			cfg.Default.HeartbeatSeconds = 30
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("config saved to %s\n", path)
		return nil
	},
}
