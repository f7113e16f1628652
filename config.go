package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"presence-service/hub"
	"presence-service/subscription"
)

type config struct {
	ListenAddr string
	Debug      bool

	// LocalAuth skips the JWKS fetch; api.NewAuth reads the HS256 secret.
	LocalAuth     bool
	Auth0Domain   string
	Auth0Audience string

	PublishToken   string
	AllowedOrigins []string

	RedisConn     string
	EventsChannel string
	DedupeTTL     time.Duration

	StorageConn  string
	EventsQueue  string
	PollInterval time.Duration

	Hub hub.Config
}

func loadConfig() (config, error) {
	cfg := config{
		ListenAddr:    ":" + envString("LISTEN_PORT", "9000"),
		LocalAuth:     os.Getenv("LOCAL_AUTH_MODE") != "" || os.Getenv("AUTH0_TEST_MODE") == "1",
		Auth0Domain:   os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience: os.Getenv("AUTH0_AUDIENCE"),
		PublishToken:  os.Getenv("PUBLISH_TOKEN"),
		RedisConn:     os.Getenv("REDIS_CONNECTION_STRING"),
		EventsChannel: envString("EVENTS_CHANNEL", subscription.DefaultChannel),
		StorageConn:   os.Getenv("STORAGE_CONNECTION_STRING"),
		EventsQueue:   os.Getenv("EVENTS_QUEUE"),
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	var err error
	if cfg.Debug, err = envBool("DEBUG", false); err != nil {
		return cfg, err
	}
	if cfg.DedupeTTL, err = envDur("DEDUPE_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.PollInterval, err = envDur("INGEST_POLL_INTERVAL", time.Second); err != nil {
		return cfg, err
	}

	defaults := hub.DefaultConfig()
	cfg.Hub = defaults
	cfg.Hub.AllowedOrigins = cfg.AllowedOrigins
	if cfg.Hub.SendBuffer, err = envInt("HUB_SEND_BUFFER", defaults.SendBuffer); err != nil {
		return cfg, err
	}
	if cfg.Hub.WriteWait, err = envDur("HUB_WRITE_WAIT", defaults.WriteWait); err != nil {
		return cfg, err
	}
	if cfg.Hub.PongWait, err = envDur("HUB_PONG_WAIT", defaults.PongWait); err != nil {
		return cfg, err
	}

	if !cfg.LocalAuth && (cfg.Auth0Domain == "" || cfg.Auth0Audience == "") {
		return cfg, fmt.Errorf("missing Auth0 config: set AUTH0_DOMAIN and AUTH0_AUDIENCE or enable LOCAL_AUTH_MODE")
	}
	if (cfg.StorageConn == "") != (cfg.EventsQueue == "") {
		return cfg, fmt.Errorf("STORAGE_CONNECTION_STRING and EVENTS_QUEUE must be set together")
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func envDur(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// redisOptions accepts a redis URL or an Azure Cache style
// "host:port,password=...,ssl=True" string.
func redisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}
