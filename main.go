// wgtally — WireGuard per-peer traffic accounting.
// Author: vesaa | License: MIT | https://github.com/vesaa/wgtally
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/vesaa/wgtally/internal/collector"
	"github.com/vesaa/wgtally/internal/config"
	"github.com/vesaa/wgtally/internal/dump"
	"github.com/vesaa/wgtally/internal/ledger"
	"github.com/vesaa/wgtally/internal/logging"
	"github.com/vesaa/wgtally/internal/server"
	"github.com/vesaa/wgtally/internal/store"
)

const version = "v0.1.0"

func printBanner(mode string) {
	fmt.Printf("\n  ► wgtally %s  |  Mode: %s\n\n", version, mode)
}

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "wgtally",
		Short: "wgtally — per-peer WireGuard traffic accounting",
		Long: `wgtally ingests 'wg show all dump' snapshots, attributes the byte counters
to stable per-peer identities and keeps the full history for browsing.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./config.yaml or ~/.wgtally/config.yaml)")

	loadConfig := func() (*config.Config, error) {
		var (
			cfg *config.Config
			err error
		)
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
		return cfg, nil
	}

	// ── server subcommand ─────────────────────────────────────────────────────
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the wgtally server (control plane: browsing API, data plane: dump ingestion)",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("SERVER")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("initializing database: %w", err)
			}
			defer db.Close()

			auth := server.NewAuth(cfg.JWTSecret, cfg.AgentToken, cfg.AdminUser, cfg.AdminPass)
			srv := server.New(ledger.New(db), auth, cfg.HistoryLimit)

			gin.SetMode(gin.ReleaseMode)
			ctrlAddr := net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.ControlPort))
			dataAddr := net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.DataPort))

			fmt.Printf("  ✓ Control plane (JWT API)    → http://%s\n", ctrlAddr)
			fmt.Printf("  ✓ Data    plane (dump ingest) → http://%s\n", dataAddr)
			fmt.Printf("  ✓ Database: %s\n\n", cfg.DBPath)

			// Run both servers concurrently; shut down gracefully on SIGINT.
			ctrlSrv := &http.Server{Addr: ctrlAddr, Handler: srv.ControlEngine(), ReadHeaderTimeout: 10 * time.Second}
			dataSrv := &http.Server{Addr: dataAddr, Handler: srv.DataEngine(), ReadHeaderTimeout: 10 * time.Second}

			errCh := make(chan error, 2)
			go func() { errCh <- ctrlSrv.ListenAndServe() }()
			go func() { errCh <- dataSrv.ListenAndServe() }()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt)

			select {
			case err := <-errCh:
				return err
			case <-quit:
				logging.Info().Msg("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = ctrlSrv.Shutdown(ctx)
				_ = dataSrv.Shutdown(ctx)
				return nil
			}
		},
	}

	// ── collect subcommand ────────────────────────────────────────────────────
	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "Read 'wg show all dump' periodically and ship it to a wgtally server",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("COLLECT")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// CLI flags override config values.
			if join, _ := cmd.Flags().GetString("join"); join != "" {
				if _, _, err := net.SplitHostPort(join); err != nil {
					join = net.JoinHostPort(join, strconv.Itoa(cfg.DataPort))
				}
				cfg.CollectJoinAddr = join
			}
			if token, _ := cmd.Flags().GetString("token"); token != "" {
				cfg.CollectToken = token
			}
			if interval, _ := cmd.Flags().GetInt("interval"); interval > 0 {
				cfg.CollectInterval = interval
			}
			if host, _ := cmd.Flags().GetString("ssh"); host != "" {
				cfg.SSHHost = host
			}

			var src collector.Source
			if cfg.SSHHost != "" {
				sshSrc := collector.NewSSHSource(collector.SSHConfig{
					Host:       cfg.SSHHost,
					User:       cfg.SSHUser,
					Password:   cfg.SSHPassword,
					KeyPath:    cfg.SSHKeyPath,
					KnownHosts: cfg.SSHKnownHosts,
				}, cfg.CollectCommand)
				defer sshSrc.Close()
				src = sshSrc
				fmt.Printf("  ✓ Source:   ssh %s@%s (%s)\n", cfg.SSHUser, cfg.SSHHost, cfg.CollectCommand)
			} else {
				local, err := collector.NewCommandSource(nil, cfg.CollectCommand)
				if err != nil {
					return err
				}
				src = local
				fmt.Printf("  ✓ Source:   local (%s)\n", cfg.CollectCommand)
			}
			fmt.Printf("  ✓ Server:   %s\n", cfg.CollectJoinAddr)
			fmt.Printf("  ✓ Interval: %ds\n\n", cfg.CollectInterval)

			c := collector.New(src, cfg.CollectJoinAddr, cfg.CollectToken, time.Duration(cfg.CollectInterval)*time.Second)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if once, _ := cmd.Flags().GetBool("once"); once {
				res, err := c.ReportOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("  ✓ Reported: %d peers, %d observations\n", res.IdentitiesTouched, res.ObservationsCreated)
				return nil
			}
			return c.Run(ctx)
		},
	}
	collectCmd.Flags().String("join", "", "Data-plane address, e.g. 10.0.0.1 or 10.0.0.1:6681")
	collectCmd.Flags().String("token", "", "Pre-shared token for server authentication (overrides config)")
	collectCmd.Flags().Int("interval", 0, "Report interval in seconds (overrides config)")
	collectCmd.Flags().String("ssh", "", "Read the dump from this host over SSH instead of locally")
	collectCmd.Flags().Bool("once", false, "Report a single dump and exit")

	// ── ingest subcommand ─────────────────────────────────────────────────────
	ingestCmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest one dump file (or stdin) directly into the local database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			text, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("reading dump: %w", err)
			}

			db, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("initializing database: %w", err)
			}
			defer db.Close()

			res, err := ledger.New(db).Ingest(cmd.Context(), string(text))
			if err != nil {
				var pe *dump.ParseError
				if errors.As(err, &pe) {
					return fmt.Errorf("dump rejected, nothing recorded: %w", err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested: %d peers, %d observations\n", res.IdentitiesTouched, res.ObservationsCreated)
			return nil
		},
	}

	// ── initdb subcommand ─────────────────────────────────────────────────────
	initdbCmd := &cobra.Command{
		Use:   "initdb",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := store.Open(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized the database at %s.\n", cfg.DBPath)
			return db.Close()
		},
	}

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print wgtally version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wgtally %s\n", version)
		},
	}

	root.AddCommand(serverCmd, collectCmd, ingestCmd, initdbCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
