package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	bridge "github.com/ton-connect/bridge-sdk-go"
)

func init() {
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Open a session and print incoming messages until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireConfig()
		session := loadSession(cfg)

		if len(cfg.Session.PeerClientIDs) == 0 {
			fmt.Fprintln(os.Stderr, "no peers known yet, run 'bridge-cli peer add <client-id>' first")
			os.Exit(1)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		clients := make([]bridge.ClientConnection, 0, len(cfg.Session.PeerClientIDs))
		for _, peerID := range cfg.Session.PeerClientIDs {
			clients = append(clients, bridge.ClientConnection{Session: session, ClientID: peerID})
		}

		heartbeat := time.Duration(cfg.Default.HeartbeatSeconds) * time.Second
		if heartbeat <= 0 {
			heartbeat = 30 * time.Second
		}

		provider, err := bridge.OpenProvider[json.RawMessage, json.RawMessage](ctx, bridge.ProviderOpenParams[json.RawMessage, json.RawMessage]{
			BridgeURL:                  cfg.Default.BridgeURL,
			Clients:                    clients,
			HeartbeatReconnectInterval: heartbeat,
			OnConnecting: func() {
				fmt.Println("connecting...")
			},
			ErrorListener: func(err error) {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			},
			Listener: func(ev bridge.Event[json.RawMessage]) {
				fmt.Printf("[%s] from=%s trace=%s payload=%s\n", ev.LastEventID, ev.From, ev.TraceID, string(ev.Payload))
			},
		})
		if err != nil {
			return fmt.Errorf("failed to open provider: %w", err)
		}
		defer provider.Close()

		fmt.Println("listening, press ctrl-c to stop")
		<-ctx.Done()
		fmt.Println("closing")
		return nil
	},
}
