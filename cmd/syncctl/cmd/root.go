// Package cmd implements syncctl, the administration CLI for the sync
// service: schema migrations, API keys and webhook subscriptions.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/fieldsync/internal/config"
	"github.com/JonMunkholm/fieldsync/internal/core"
	"github.com/JonMunkholm/fieldsync/internal/logging"
	"github.com/JonMunkholm/fieldsync/internal/store/memory"
	"github.com/JonMunkholm/fieldsync/internal/store/postgres"
)

// Backend is a store the CLI can administer.
type Backend interface {
	core.Store
	core.Admin
}

// Deps are the CLI's seams to the outside world.
type Deps struct {
	LoadConfig func() (*config.Config, error)
	Open       func(ctx context.Context, cfg *config.Config) (Backend, func(), error)
	Migrations postgres.MigrationEngine // nil uses the embedded migrations
}

// DefaultDeps reads the environment (and .env) and opens the configured store.
func DefaultDeps() Deps {
	return Deps{
		LoadConfig: func() (*config.Config, error) {
			_ = godotenv.Load()
			return config.Load()
		},
		Open: openBackend,
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (Backend, func(), error) {
	if strings.EqualFold(cfg.Store.Driver, config.DriverMemory) {
		return memory.New(), func() {}, nil
	}
	pg, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

// cli carries state shared by every subcommand.
type cli struct {
	deps Deps
	cfg  *config.Config
}

// Execute runs syncctl with the default dependencies.
func Execute() {
	if err := NewRootCmd(DefaultDeps()).Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd(deps Deps) *cobra.Command {
	c := &cli{deps: deps}

	root := &cobra.Command{
		Use:   "syncctl",
		Short: "Administer the field sync service",
		Long: `syncctl manages the sync service's database schema, API keys and
webhook subscriptions. It reads the same environment as the server.`,
		PersistentPreRunE: c.setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	root.AddCommand(c.migrateCmd(), c.apikeyCmd(), c.webhookCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := c.deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	c.cfg = cfg
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

// withBackend opens the store for the duration of fn.
func (c *cli) withBackend(ctx context.Context, fn func(Backend) error) error {
	b, closeFn, err := c.deps.Open(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeFn()
	return fn(b)
}

var (
	success = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
	heading = color.New(color.Bold)
)

func printSuccess(w io.Writer, format string, args ...any) {
	success.Fprintf(w, format+"\n", args...)
}

func printWarning(w io.Writer, format string, args ...any) {
	warning.Fprintf(w, format+"\n", args...)
}
