// Package cmd defines the CLI commands of the collector executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/housedata-crawler/internal/config"
	"github.com/JakeFAU/housedata-crawler/internal/logging"
)

type runtimeKeyType struct{}

var runtimeKey runtimeKeyType

// runtime carries what every subcommand needs once configuration is loaded.
type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	closeLog func() error
}

// cli owns the root command and the runtime its pre-run hook builds, so the
// log file can be released however the command ends.
type cli struct {
	root      *cobra.Command
	rt        *runtime
	newLogger func(logging.Config, ...logging.Option) (*zap.Logger, func() error)
}

func newCLI() *cli {
	c := &cli{newLogger: logging.New}
	c.root = newRootCmd(c)
	return c
}

func newRootCmd(c *cli) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Collects daily housing transaction figures into a SQL database.",
		Long: `collector fetches housing statistics pages, extracts their figures
and upserts them into MySQL, PostgreSQL or SQLite. Pages are fetched over
plain HTTP or through a headless Chrome session.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, closeLog := c.newLogger(cfg.LoggingOptions(),
				logging.WithConsole(zapcore.Lock(zapcore.AddSync(cmd.ErrOrStderr()))),
			)
			c.rt = &runtime{cfg: cfg, logger: logger, closeLog: closeLog}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, c.rt))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newRunCmd(), newFetchCmd(), newPostCmd())
	return cmd
}

// execute runs the command tree and then flushes and closes the logger,
// including when the subcommand failed.
func (c *cli) execute(ctx context.Context) error {
	defer c.release()
	return c.root.ExecuteContext(ctx)
}

func (c *cli) release() {
	if c.rt == nil {
		return
	}
	rt := c.rt
	c.rt = nil
	_ = rt.logger.Sync()
	if err := rt.closeLog(); err != nil {
		fmt.Fprintf(c.root.ErrOrStderr(), "close log file: %v\n", err)
	}
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// Execute runs the root command until it finishes or the process is
// interrupted, and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCLI().execute(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
