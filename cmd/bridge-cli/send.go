package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	bridge "github.com/ton-connect/bridge-sdk-go"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <peer-client-id> <json-payload>",
	Short: "Encrypt and send one JSON payload to a peer",
	Long:  "Send does not require an open subscription: the message is POSTed\ndirectly to the relay's /message endpoint and delivered on the peer's\nnext poll or live SSE read.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		peerID, raw := args[0], args[1]
		if err := validatePeerID(peerID); err != nil {
			return err
		}

		var payload json.RawMessage
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return fmt.Errorf("payload must be valid JSON: %w", err)
		}

		cfg := requireConfig()
		session := loadSession(cfg)

		peerPub, err := bridge.DecodeHexPublicKey(peerID)
		if err != nil {
			return fmt.Errorf("decode peer public key: %w", err)
		}

		ciphertext, err := session.Encrypt(payload, peerPub)
		if err != nil {
			return fmt.Errorf("encrypt payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		err = bridge.Do(ctx, func(innerCtx context.Context) error {
			return bridge.SendMessage(innerCtx, nil, cfg.Default.BridgeURL, ciphertext, session.SessionID(), peerID, bridge.SendOptions{})
		}, bridge.RetryOptions{Attempts: 3, DelayMs: 500 * time.Millisecond})
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		fmt.Println("sent")
		return nil
	},
}
