// Package config loads relay and peer settings from the environment, with
// command line flags taking priority for the peer.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	DefaultSTUN = "stun:stun.l.google.com:19302"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Store          string
	Redis          RedisConfig
	// SignalTTL is how long a room's signals survive in Redis after the
	// last insert.
	SignalTTL     time.Duration
	BacklogWindow time.Duration
	PruneWindow   time.Duration
	LogLevel      string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

// Load reads the relay server configuration.
func Load() (*Config, error) {
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	ttl, err := getDuration("SIGNAL_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	backlog, err := getDuration("BACKLOG_WINDOW", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	prune, err := getDuration("PRUNE_WINDOW", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Store:          getEnv("STORE", StoreMemory),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       db,
		},
		SignalTTL:     ttl,
		BacklogWindow: backlog,
		PruneWindow:   prune,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
	if cfg.Store != StoreMemory && cfg.Store != StoreRedis {
		return nil, fmt.Errorf("STORE must be %q or %q, got %q", StoreMemory, StoreRedis, cfg.Store)
	}
	return cfg, nil
}

// PeerOptions carries command line overrides for the call peer.
type PeerOptions struct {
	Server        string
	STUNServer    string
	TURNServer    string
	TURNUser      string
	TURNPass      string
	BacklogWindow time.Duration
	PruneWindow   time.Duration
}

type PeerConfig struct {
	// Server is the relay base URL, e.g. ws://localhost:8080.
	Server        string
	STUNServer    string
	TURNServer    string
	TURNUser      string
	TURNPass      string
	BacklogWindow time.Duration
	PruneWindow   time.Duration
}

// LoadPeer resolves each setting as flag, then environment, then default.
func LoadPeer(opts PeerOptions) (*PeerConfig, error) {
	backlog := opts.BacklogWindow
	if backlog == 0 {
		d, err := getDuration("BACKLOG_WINDOW", 5*time.Minute)
		if err != nil {
			return nil, err
		}
		backlog = d
	}
	prune := opts.PruneWindow
	if prune == 0 {
		d, err := getDuration("PRUNE_WINDOW", 10*time.Minute)
		if err != nil {
			return nil, err
		}
		prune = d
	}
	return &PeerConfig{
		Server:        pick(opts.Server, "TELECALL_SERVER", "ws://localhost:8080"),
		STUNServer:    pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:    pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:      pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:      pick(opts.TURNPass, "TURN_PASSWORD", ""),
		BacklogWindow: backlog,
		PruneWindow:   prune,
	}, nil
}

func (c *PeerConfig) STUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return strings.Split(c.STUNServer, ",")
}

// TURNServers expands a bare TURN host into its udp, tcp and tls urls.
func (c *PeerConfig) TURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.Contains(c.TURNServer, "?") {
		return []string{c.TURNServer}
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

func pick(flag, key, def string) string {
	if flag != "" {
		return flag
	}
	return getEnv(key, def)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
