package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"autosumm/internal/cache"
	"autosumm/internal/config"
	"autosumm/internal/logging"
	"autosumm/internal/registry"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(c.flagPath())
		if err != nil {
			c.configErr = err
			return
		}
		if level := c.logLevel(); level != "" {
			cfg.Logging.Level = level
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) flagPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) logLevel() string {
	if c.logLevelFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.logLevelFlag)
}

func (c *commandContext) logger() (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func (c *commandContext) withCache(ctx context.Context, fn func(*cache.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := cache.Open(ctx, cfg.CacheDBPath())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func (c *commandContext) withRegistry(ctx context.Context, fn func(*registry.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := registry.Open(ctx, cfg.RegistryDBPath())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
