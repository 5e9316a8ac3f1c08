// Roomcall: two-party WebRTC calls brokered by a small signaling server.
//
// `roomcall serve` runs the WebSocket signaling server, `roomcall join <room>`
// joins a room as a Go peer, and `roomcall rooms` lists occupied rooms.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/roomcall/internal/config"
	"github.com/1ureka/roomcall/internal/util"
)

var version = "dev"

var (
	logLevel  string
	debugMode bool
)

var rootCmd = &cobra.Command{
	Use:     "roomcall",
	Short:   "Two-party WebRTC calls over a room-based signaling server",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debugMode {
			util.EnableDebug()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error (env LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(serveCmd, joinCmd, roomsCmd)
}

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig resolves configuration and applies its log level. --debug wins
// over any configured level.
func loadConfig(opts config.Options) (*config.Config, error) {
	opts.LogLevel = logLevel
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, err
	}
	util.SetLevel(cfg.LogLevel)
	if debugMode {
		util.EnableDebug()
	}
	return cfg, nil
}

func banner(title string) {
	pterm.Info.Println("Roomcall — v" + version + " — " + title)
	pterm.Println()
}
