package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"leadpipe/internal/api"
	"leadpipe/internal/config"
	"leadpipe/internal/logging"
	"leadpipe/internal/queue"
	"leadpipe/internal/queueaccess"
	"leadpipe/internal/redisledger"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) apiBind() string {
	if c.apiFlag != nil && strings.TrimSpace(*c.apiFlag) != "" {
		return strings.TrimSpace(*c.apiFlag)
	}
	if c.config == nil {
		return ""
	}
	return c.config.Paths.APIBind
}

// cliLogger logs to stderr so command output stays parseable.
func (c *commandContext) cliLogger() *slog.Logger {
	level := "warn"
	format := "console"
	if c.config != nil {
		format = c.config.Logging.Format
	}
	logger, err := logging.New(logging.Options{Level: level, Format: format, OutputPaths: []string{"stderr"}})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// openLedger returns the shared Redis ledger when configured, or nil when
// the store's credential table is authoritative.
func (c *commandContext) openLedger(ctx context.Context) (*redisledger.Ledger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Ledger.Backend != "redis" {
		return nil, nil
	}
	return redisledger.New(ctx, cfg.Ledger)
}

func (c *commandContext) withStore(ctx context.Context, fn func(*queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// withAccess runs fn against the daemon API when reachable, otherwise
// against the queue database.
func (c *commandContext) withAccess(cmd *cobra.Command, fn func(queueaccess.Session) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	var ledger *redisledger.Ledger
	session, err := queueaccess.OpenWithFallback(ctx,
		func() (*api.Client, error) { return api.NewClient(c.apiBind(), cfg.Paths.APIToken) },
		func() (*queue.Store, api.CredentialLister, error) {
			store, err := queue.Open(cfg)
			if err != nil {
				return nil, nil, err
			}
			ledger, err = c.openLedger(ctx)
			if err != nil {
				store.Close()
				return nil, nil, err
			}
			if ledger == nil {
				return store, nil, nil
			}
			return store, ledger, nil
		},
	)
	if err != nil {
		return err
	}
	defer session.Close()
	if ledger != nil {
		defer ledger.Close()
	}
	return fn(session)
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
