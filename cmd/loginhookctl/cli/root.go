// Package cli implements the loginhookctl commands for managing a login hook
// stored in Redis and simulating session starts against it.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/loginhook"
	"github.com/MrEthical07/loginhook/host/redishost"
	"github.com/MrEthical07/loginhook/internal/logging"
)

type globalOptions struct {
	redisAddr  string
	prefix     string
	configPath string
	logLevel   string
	logFormat  string
}

type env struct {
	client  redis.UniversalClient
	admin   *redishost.Admin
	config  loginhook.Config
	logger  *slog.Logger
	cleanup func()
}

// NewRootCommand returns the loginhookctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:          "loginhookctl",
		Short:        "Manage and exercise the session login hook",
		Long:         "loginhookctl installs the login_hook.login() routine in Redis and simulates session starts that dispatch it.",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address; REDIS_ADDR is used when empty, then an in-process miniredis")
	flags.StringVar(&opts.prefix, "prefix", redishost.DefaultPrefix, "Redis key prefix")
	flags.StringVarP(&opts.configPath, "config", "c", "", "Engine config file (.yaml, .yml or .json)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format (tint, text, json); overrides the config file")

	root.AddCommand(
		newInstallCommand(opts),
		newUninstallCommand(opts),
		newStatusCommand(opts),
		newLoginCommand(opts),
		newVersionCommand(),
	)
	return root
}

func (o *globalOptions) open(ctx context.Context, stderr io.Writer) (*env, error) {
	cfg := loginhook.DefaultConfig()
	if o.configPath != "" {
		loaded, err := loginhook.LoadConfigFile(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return nil, err
	}

	addr := o.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	cleanup := func() {}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		cleanup = mr.Close
		logger.Warn("no Redis address configured; using an in-process miniredis that is discarded on exit", "addr", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		cleanup()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}

	stop := cleanup
	return &env{
		client: client,
		admin:  redishost.NewAdmin(client, o.prefix),
		config: cfg,
		logger: logger,
		cleanup: func() {
			_ = client.Close()
			stop()
		},
	}, nil
}

func (e *env) Close() {
	if e != nil && e.cleanup != nil {
		e.cleanup()
	}
}
