package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/C4T-BuT-S4D/hokd/internal/api"
	"github.com/C4T-BuT-S4D/hokd/internal/bot"
	"github.com/C4T-BuT-S4D/hokd/internal/config"
	"github.com/C4T-BuT-S4D/hokd/internal/logging"
	"github.com/C4T-BuT-S4D/hokd/internal/monitor"
	"github.com/C4T-BuT-S4D/hokd/internal/poller"
	"github.com/C4T-BuT-S4D/hokd/internal/storage"
	"github.com/C4T-BuT-S4D/hokd/internal/telegram"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			logrus.Fatalf("crashed: %v\n%s", r, debug.Stack())
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "hokd",
		Short:        "Hands of Kindness help request bot",
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			setupConfig()
			logging.Init()
			return run(config.New())
		},
	}

	cmd.Flags().BoolP("maintenance", "m", false, "Answer every message with a maintenance notice.")
	cmd.Flags().String("config", "", "Config file path (optional).")
	cmd.Flags().String("log-level", "", "Logging level: debug|info|warn|error.")
	cmd.Flags().Bool("debug", false, "Enable debug logging.")

	_ = viper.BindPFlag("maintenance", cmd.Flags().Lookup("maintenance"))
	_ = viper.BindPFlag("config", cmd.Flags().Lookup("config"))
	_ = viper.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("debug", cmd.Flags().Lookup("debug"))

	return cmd
}

func setupConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	config.SetupCommon()

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read config: %v\n", err)
			os.Exit(1)
		}
	}
}

func run(cfg *config.Config) error {
	logrus.Infof("starting hokd %s, maintenance=%v", version, cfg.Maintenance)
	logrus.Debugf("config: data_file=%s admin_chat_id=%d workers=%d", cfg.DataFile, cfg.AdminChatID, cfg.HandlerWorkers)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	client := telegram.New(cfg)

	var (
		store   *storage.Storage
		handler poller.Handler
		mon     *monitor.Monitor
	)
	if cfg.Maintenance {
		handler = bot.NewMaintenance(client)
	} else {
		var err error
		store, err = storage.Load(cfg.DataFile, cfg.ProblemLifetime)
		if err != nil {
			logrus.Fatalf("Failed to load users data: %v", err)
		}
		handler = bot.New(cfg, store, client)
		mon = monitor.New(store, client)
	}

	pollerCfg := poller.Config{
		Timeout:    cfg.PollTimeout,
		ErrorDelay: cfg.PollErrorDelay,
		Workers:    cfg.HandlerWorkers,
	}
	if mon != nil {
		pollerCfg.OnIteration = mon.Trigger
	}
	p := poller.New(pollerCfg, client, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})

	if cfg.StatusListen != "" {
		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		api.NewService(store, version).Register(e)

		g.Go(func() error {
			logrus.Infof("serving status on %s", cfg.StatusListen)
			if err := e.Start(cfg.StatusListen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving status: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()

	if mon != nil {
		logrus.Info("waiting for maintenance jobs to finish")
		mon.Wait()
	}

	if err != nil {
		logrus.Errorf("stopped with error: %v", err)
		return err
	}
	logrus.Info("terminated")
	return nil
}
