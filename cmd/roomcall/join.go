package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/1ureka/roomcall/internal/client"
	"github.com/1ureka/roomcall/internal/config"
	"github.com/1ureka/roomcall/internal/util"
)

var (
	joinOpts config.Options
	joinName string
)

var joinCmd = &cobra.Command{
	Use:   "join <roomId>",
	Short: "Join a room and negotiate a call with the other participant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd.Context(), args[0])
	},
}

func init() {
	f := joinCmd.Flags()
	f.StringVar(&joinOpts.ServerURL, "server", "", "signaling WebSocket URL (env SERVER_URL)")
	f.StringVar(&joinOpts.ICEMode, "ice-mode", "", "stun-turn, stun-only or turn-only (env ICE_MODE)")
	f.StringVar(&joinName, "name", "", "name announced over the control channel (default: hostname)")
}

func runJoin(ctx context.Context, roomID string) error {
	cfg, err := loadConfig(joinOpts)
	if err != nil {
		return err
	}
	banner("room " + roomID)

	name := joinName
	if name == "" {
		name, _ = os.Hostname()
	}

	peer := client.New(client.Options{
		ServerURL:  cfg.ServerURL,
		RoomID:     roomID,
		Name:       name,
		ICEServers: cfg.ICEServers,
	})

	util.StartStatsReporter(ctx, 5*time.Second)
	if err := peer.Run(ctx); err != nil {
		return fmt.Errorf("room %q: %w", roomID, err)
	}
	util.LogInfo("left room %q", roomID)
	return nil
}
