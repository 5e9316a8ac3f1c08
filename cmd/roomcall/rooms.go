package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/1ureka/roomcall/internal/config"
	"github.com/1ureka/roomcall/internal/presence"
)

var roomsOpts config.Options

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List occupied rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRooms(cmd.Context())
	},
}

func init() {
	f := roomsCmd.Flags()
	f.StringVar(&roomsOpts.ServerURL, "server", "", "signaling WebSocket URL to query (env SERVER_URL)")
	f.StringVar(&roomsOpts.RedisAddr, "redis", "", "read presence from Redis instead of the server (env REDIS_ADDR)")
}

func runRooms(ctx context.Context) error {
	cfg, err := loadConfig(roomsOpts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var recs []presence.Record
	if cfg.RedisAddr != "" {
		rdb, err := presence.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		recs, err = presence.NewRedisStore(rdb, cfg.RedisPrefix).List(ctx)
		if err != nil {
			return fmt.Errorf("list rooms: %w", err)
		}
	} else {
		recs, err = fetchRooms(ctx, cfg.ServerURL)
		if err != nil {
			return err
		}
	}

	renderRooms(recs)
	return nil
}

// roomsURL maps the signaling WebSocket URL onto the server's /rooms endpoint.
func roomsURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server URL: %s", serverURL)
	}
	switch u.Scheme {
	case "wss", "https":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = "/rooms"
	u.RawQuery = ""
	return u.String(), nil
}

func fetchRooms(ctx context.Context, serverURL string) ([]presence.Record, error) {
	endpoint, err := roomsURL(serverURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query %s: %s", endpoint, resp.Status)
	}

	var rooms []struct {
		ID           string    `json:"id"`
		Participants []string  `json:"participants"`
		CreatedAt    time.Time `json:"createdAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}

	recs := make([]presence.Record, 0, len(rooms))
	for _, r := range rooms {
		recs = append(recs, presence.Record{RoomID: r.ID, Participants: r.Participants, UpdatedAt: r.CreatedAt})
	}
	return recs, nil
}

func renderRooms(recs []presence.Record) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Room", "Peers", "Participants", "Updated"})
	for _, r := range recs {
		t.AppendRow(table.Row{
			r.RoomID,
			fmt.Sprintf("%d/2", len(r.Participants)),
			strings.Join(r.Participants, ", "),
			r.UpdatedAt.Local().Format("02 Jan 15:04:05"),
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d rooms", len(recs)), "", ""})
	t.Render()
}
