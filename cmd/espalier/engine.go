package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	espalier "github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/config"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/adapters/redis"
	"github.com/aretw0/espalier/pkg/adapters/yamlspec"
	"github.com/aretw0/espalier/pkg/invoker/anthropic"
	"github.com/aretw0/espalier/pkg/invoker/openai"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/registry"
	"github.com/aretw0/espalier/pkg/template"
	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.LogFormat == "json" {
		return logging.NewJSON(os.Stderr, level)
	}
	return logging.New(level)
}

// identityUnit echoes the actor's input, useful for demo machines and for
// exercising a flow without any model behind it.
func identityUnit(ctx context.Context, inv domain.Invocation) (string, error) {
	in, _ := inv.Data["actor_input"].(string)
	return in, nil
}

// newRegistry wires the invocation units available to machine plans. LLM
// units register only when the corresponding API key is present so that
// machines without them still load.
func newRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.New()
	reg.Register("identity", identityUnit)

	if os.Getenv("OPENAI_API_KEY") != "" {
		reg.Register("openai.chat", openai.New().Unit())
		logger.Debug("registered invocation unit", "unit", "openai.chat")
	}
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		reg.Register("anthropic.messages", anthropic.New().Unit())
		logger.Debug("registered invocation unit", "unit", "anthropic.messages")
	}
	return reg
}

// buildEngine assembles a full engine from the configuration. Machines come
// from YAML definitions and templates from disk; adapters are in-process
// unless a Redis address is configured.
func buildEngine(cmd *cobra.Command, cfg config.Config, logger *slog.Logger, promReg *prometheus.Registry) (*espalier.Engine, []string, error) {
	machineDir := cfg.MachineDir
	if v, _ := cmd.Flags().GetString("machines"); v != "" {
		machineDir = v
	}
	templateDir := cfg.TemplateDir
	if v, _ := cmd.Flags().GetString("templates"); v != "" {
		templateDir = v
	}

	machines, err := yamlspec.LoadDir(machineDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load machines from %s: %w", machineDir, err)
	}

	renderer, err := template.NewDir(templateDir, template.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("load templates from %s: %w", templateDir, err)
	}
	if cfg.WatchTemplates {
		if err := renderer.Watch(); err != nil {
			return nil, nil, fmt.Errorf("watch templates: %w", err)
		}
	}

	opts := []espalier.Option{
		espalier.WithRenderer(renderer),
		espalier.WithRegistry(newRegistry(logger)),
		espalier.WithLogger(logger),
		espalier.WithWorkers(cfg.Workers),
		espalier.WithLockTimeout(cfg.LockTimeout),
		espalier.WithLockTTL(cfg.LockTTL),
	}
	if promReg != nil {
		opts = append(opts, espalier.WithMetrics(promReg))
	}
	keys := make([]string, 0, len(machines))
	for _, m := range machines {
		keys = append(keys, m.Key)
		opts = append(opts, espalier.WithMachine(m))
	}

	if cfg.RedisAddr != "" {
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		storeOpts := []redis.StoreOption{}
		if cfg.SessionTTL > 0 {
			storeOpts = append(storeOpts, redis.WithTTL(cfg.SessionTTL))
		}
		opts = append(opts,
			espalier.WithStore(redis.NewStore(client, storeOpts...)),
			espalier.WithProgressStore(redis.NewProgressStore(client)),
			espalier.WithLocker(redis.NewLocker(client)),
			espalier.WithQueue(func(h ports.JobHandler) (ports.TaskQueue, error) {
				return redis.NewQueue(client, h,
					redis.WithWorkers(cfg.Workers),
					redis.WithQueueLogger(logger),
				), nil
			}),
		)
		logger.Info("using redis backend", "addr", cfg.RedisAddr)
	}

	engine, err := espalier.New(opts...)
	if err != nil {
		renderer.Close()
		return nil, nil, err
	}
	return engine, keys, nil
}
