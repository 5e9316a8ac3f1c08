package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/1ureka/roomcall/internal/config"
	"github.com/1ureka/roomcall/internal/presence"
	"github.com/1ureka/roomcall/internal/room"
	"github.com/1ureka/roomcall/internal/signaling"
	"github.com/1ureka/roomcall/internal/util"
)

var serveOpts config.Options

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.Addr, "addr", "", "listen address (env ADDR, default :8080)")
	f.StringVar(&serveOpts.SignalPath, "path", "", "WebSocket endpoint path (env SIGNAL_PATH, default /signal)")
	f.StringVar(&serveOpts.RedisAddr, "redis", "", "Redis address for room presence (env REDIS_ADDR, default in-memory)")
	f.StringVar(&serveOpts.ICEMode, "ice-mode", "", "stun-turn, stun-only or turn-only (env ICE_MODE)")
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig(serveOpts)
	if err != nil {
		return err
	}
	banner("signaling server")

	store, closeStore, err := openPresence(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := store.Reset(ctx); err != nil {
		util.LogWarning("presence reset: %v", err)
	}

	coord := signaling.NewCoordinator(ctx, room.NewRegistry(), store)
	srv := signaling.NewServer(ctx, coord, signaling.ServerOptions{
		SignalPath: cfg.SignalPath,
		ICEMode:    cfg.ICEMode,
		ICEServers: cfg.ICEServers,
	})

	addr, err := srv.Start(cfg.Addr)
	if err != nil {
		return err
	}
	util.LogInfo("config: addr=%s path=%s redis=%q ice_mode=%s ice_servers=%d turn_configured=%v",
		addr, cfg.SignalPath, cfg.RedisAddr, cfg.ICEMode, len(cfg.ICEServers), cfg.TURNConfigured())
	util.LogSuccess("signaling server listening on ws://%s%s", addr, cfg.SignalPath)

	util.StartStatsReporter(ctx, time.Second)

	<-ctx.Done()
	util.LogInfo("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openPresence returns the Redis-backed store when REDIS_ADDR is set and the
// in-memory store otherwise.
func openPresence(ctx context.Context, cfg *config.Config) (presence.Store, func(), error) {
	if cfg.RedisAddr == "" {
		return presence.NewMemoryStore(), func() {}, nil
	}
	rdb, err := presence.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	util.LogInfo("room presence in redis %s (prefix %q)", cfg.RedisAddr, cfg.RedisPrefix)
	return presence.NewRedisStore(rdb, cfg.RedisPrefix), func() { rdb.Close() }, nil
}
