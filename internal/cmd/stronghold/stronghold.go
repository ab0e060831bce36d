// Package stronghold parses step-up command flags and composes the
// service entrypoint.
package stronghold

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/strongholdauth/stronghold/internal/platform/cmd"
	server "github.com/strongholdauth/stronghold/internal/stepup/app"
)

// Config holds step-up command configuration.
type Config struct {
	HTTPAddr   string        `env:"STRONGHOLD_HTTP_ADDR"   envDefault:":8090"`
	DBPath     string        `env:"STRONGHOLD_DB_PATH"`
	RedisAddr  string        `env:"STRONGHOLD_REDIS_ADDR"`
	SessionTTL time.Duration `env:"STRONGHOLD_SESSION_TTL" envDefault:"0"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "step-up HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite session database path (empty for in-memory sessions)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for the session store (overrides db-path)")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "session expiry (0 keeps sessions until deleted)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the step-up app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceStronghold, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:   cfg.HTTPAddr,
			DBPath:     cfg.DBPath,
			RedisAddr:  cfg.RedisAddr,
			SessionTTL: cfg.SessionTTL,
		}); err != nil {
			return fmt.Errorf("serve stepup: %w", err)
		}
		return nil
	})
}
