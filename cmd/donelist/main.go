package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rcliao/donelist/internal/config"
	"github.com/rcliao/donelist/internal/logging"
)

var Version = "dev"

// app carries what PersistentPreRunE resolved for the subcommands.
type app struct {
	configFile string
	verbose    bool

	v       *viper.Viper
	cfg     *config.Config
	logger  *zap.Logger
	closers []func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{v: viper.New()}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "donelist",
		Short:         "Donelist - daily tasks with AI sub-task suggestions",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/donelist/config.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.String("storage", "", "storage backend (memory, file, sqlite)")
	flags.String("data-dir", "", "directory holding the .donelist data folder")
	flags.String("owner", "", "owner scope for the sqlite backend")
	flags.String("proxy", "", "completion proxy URL used by analyze")

	_ = a.v.BindPFlag("storage.backend", flags.Lookup("storage"))
	_ = a.v.BindPFlag("storage.data_dir", flags.Lookup("data-dir"))
	_ = a.v.BindPFlag("storage.owner", flags.Lookup("owner"))
	_ = a.v.BindPFlag("client.proxy_url", flags.Lookup("proxy"))

	rootCmd.AddCommand(serveCmd(a))
	rootCmd.AddCommand(mcpCmd(a))
	rootCmd.AddCommand(addCmd(a))
	rootCmd.AddCommand(listCmd(a))
	rootCmd.AddCommand(showCmd(a))
	rootCmd.AddCommand(searchCmd(a))
	rootCmd.AddCommand(toggleCmd(a))
	rootCmd.AddCommand(everydayCmd(a))
	rootCmd.AddCommand(deleteCmd(a))
	rootCmd.AddCommand(clearCompletedCmd(a))
	rootCmd.AddCommand(subtaskCmd(a))
	rootCmd.AddCommand(analyzeCmd(a))
	rootCmd.AddCommand(regenerateCmd(a))

	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	config.SetDefaults(a.v)
	if err := config.ReadFile(a.v, a.configFile); err != nil {
		return err
	}
	if a.verbose {
		a.v.Set("logging.level", "debug")
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	a.logger = logger
	a.onClose(func() error {
		_ = logger.Sync()
		return nil
	})

	if used := a.v.ConfigFileUsed(); used != "" {
		logger.Debug("config loaded", zap.String("file", used))
	}
	return nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close runs the registered closers in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("cleanup failed", zap.Error(err))
		}
	}
	a.closers = nil
}
