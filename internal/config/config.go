// Package config resolves runtime settings from flags, the environment and
// built-in defaults, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICE modes.
const (
	ICEModeSTUNTURN = "stun-turn"
	ICEModeSTUNOnly = "stun-only"
	ICEModeTURNOnly = "turn-only"
)

const (
	DefaultAddr        = ":8080"
	DefaultSignalPath  = "/signal"
	DefaultRedisPrefix = "roomcall"
	DefaultServerURL   = "ws://localhost:8080/signal"
	DefaultSTUN        = "stun:stun.l.google.com:19302"
)

// Config is the resolved configuration shared by the server and the peer.
type Config struct {
	Addr       string // Server: listen address
	SignalPath string // Server: WebSocket endpoint path

	RedisAddr     string // Presence backend; empty selects the in-memory store
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	ICEMode    string
	ICEServers []webrtc.ICEServer

	ServerURL string // Peer: signaling WebSocket URL
	LogLevel  string
}

// Options carries values set explicitly on the command line. Empty fields
// fall through to the environment.
type Options struct {
	Addr       string
	SignalPath string
	RedisAddr  string
	ServerURL  string
	ICEMode    string
	LogLevel   string
}

// Load resolves the configuration. It fails on values it cannot interpret.
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		Addr:          pick(opts.Addr, "ADDR", DefaultAddr),
		SignalPath:    pick(opts.SignalPath, "SIGNAL_PATH", DefaultSignalPath),
		RedisAddr:     pick(opts.RedisAddr, "REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisPrefix:   pick("", "REDIS_PREFIX", DefaultRedisPrefix),
		ICEMode:       strings.ToLower(pick(opts.ICEMode, "ICE_MODE", ICEModeSTUNTURN)),
		ServerURL:     pick(opts.ServerURL, "SERVER_URL", DefaultServerURL),
		LogLevel:      strings.ToLower(pick(opts.LogLevel, "LOG_LEVEL", "info")),
	}

	if !strings.HasPrefix(cfg.SignalPath, "/") {
		cfg.SignalPath = "/" + cfg.SignalPath
	}

	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			return nil, fmt.Errorf("invalid REDIS_DB %q", v)
		}
		cfg.RedisDB = db
	}

	switch cfg.ICEMode {
	case ICEModeSTUNTURN, ICEModeSTUNOnly, ICEModeTURNOnly:
	default:
		return nil, fmt.Errorf("invalid ICE_MODE %q (want %s, %s or %s)",
			cfg.ICEMode, ICEModeSTUNTURN, ICEModeSTUNOnly, ICEModeTURNOnly)
	}
	cfg.ICEServers = LoadICEServers(cfg.ICEMode)

	return cfg, nil
}

// TURNConfigured reports whether any ICE server carries credentials.
func (c *Config) TURNConfigured() bool {
	for _, s := range c.ICEServers {
		if s.Username != "" || s.Credential != nil {
			return true
		}
	}
	return false
}

// LoadICEServers builds the ICE server list for mode from STUN_URLS,
// TURN_URLS, TURN_USERNAME and TURN_PASSWORD. A turn-only mode without TURN
// servers falls back to the default STUN server.
func LoadICEServers(mode string) []webrtc.ICEServer {
	stunEnv := strings.TrimSpace(os.Getenv("STUN_URLS"))
	turnEnv := strings.TrimSpace(os.Getenv("TURN_URLS"))
	turnUsername := strings.TrimSpace(os.Getenv("TURN_USERNAME"))
	turnPassword := strings.TrimSpace(os.Getenv("TURN_PASSWORD"))

	turnOnly := strings.EqualFold(mode, ICEModeTURNOnly)
	stunOnly := strings.EqualFold(mode, ICEModeSTUNOnly)

	var servers []webrtc.ICEServer
	if !turnOnly {
		if stunEnv != "" {
			if urls := splitAndClean(stunEnv); len(urls) > 0 {
				servers = append(servers, webrtc.ICEServer{URLs: urls})
			}
		} else {
			servers = append(servers, webrtc.ICEServer{URLs: []string{DefaultSTUN}})
		}
	}

	if !stunOnly && turnEnv != "" {
		if urls := splitAndClean(turnEnv); len(urls) > 0 {
			servers = append(servers, webrtc.ICEServer{
				URLs:           urls,
				Username:       turnUsername,
				Credential:     turnPassword,
				CredentialType: webrtc.ICECredentialTypePassword,
			})
		}
	}

	if turnOnly && len(servers) == 0 {
		servers = append(servers, webrtc.ICEServer{URLs: []string{DefaultSTUN}})
	}
	return servers
}

func pick(flag, env, fallback string) string {
	if v := strings.TrimSpace(flag); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v
	}
	return fallback
}

func splitAndClean(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
