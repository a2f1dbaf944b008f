package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"plantdash/internal/app"
	"plantdash/internal/backend"
	"plantdash/internal/config"
	"plantdash/internal/db"
	"plantdash/internal/logger"
	"plantdash/internal/scheduler"
	"plantdash/internal/server"
)

var (
	settings config.Settings
	log      = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "plantdash",
	Short: "Production dashboard CLI",
	Long: `plantdash keeps the data behind a production-management dashboard:
collection records, production orders, non-conformances, inspections,
reports, audit log, alerts and sensor readings.

Every process opens the same SQLite file in the workspace (.plantdash/plantdash.db).
Configuration changes and data writes are broadcast to the other processes
through the database outbox or Redis.

Settings come from defaults, <workspace>/plantdash.yml, .env, PLANTDASH_*
environment variables and flags, in that order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		if err := config.Bind(v, viper.GetString("env-file")); err != nil {
			return err
		}
		s, err := config.Load(v)
		if err != nil {
			return err
		}
		settings = s
		l, err := logger.New(s.LogLevel)
		if err != nil {
			return err
		}
		log = l
		if s.DB.Path == "" {
			if _, err := db.EnsureWorkspace(s.Workspace); err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = log.Sync()
	},
}

func main() {
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("db", "", "database file (overrides the workspace location)")
	rootCmd.PersistentFlags().String("env-file", "", "dotenv file to load")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")
	rootCmd.PersistentFlags().String("transport", "sqlite", "broadcast transport: sqlite, redis or none")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("db.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("env-file", rootCmd.PersistentFlags().Lookup("env-file"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("broadcast.transport", rootCmd.PersistentFlags().Lookup("transport"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(ordersCmd())
	rootCmd.AddCommand(collectionsCmd())
	rootCmd.AddCommand(ncCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(tokenCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "init",
		Aliases: []string{"seed"},
		Short:   "Create the database and seed the default dataset",
		Long:    "Seeds only a fresh database; on an existing one it backfills missing quality history.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				rep, err := d.InitializeDefaultData(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var devLogin, noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, event stream and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := backend.RequireLocal(settings.Backend, "serve"); err != nil {
				return err
			}
			return withDatabase(cmd.Context(), func(ctx context.Context, d *app.Database) error {
				if _, err := d.InitializeDefaultData(ctx); err != nil {
					return err
				}
				if settings.JWTSecret == "" {
					log.Warn("auth.jwt_secret is empty; requests run unauthenticated")
				}
				handler, err := server.New(server.Config{
					DB:       d,
					BasePath: settings.Server.BasePath,
					Auth:     server.AuthConfig{JWTSecret: settings.JWTSecret, DevLogin: devLogin},
					Logger:   logger.Named(log, "server"),
				})
				if err != nil {
					return err
				}
				defer handler.Close()

				if !noScheduler {
					sched := scheduler.New(d, settings.Scheduler, logger.Named(log, "scheduler"))
					if err := sched.Start(); err != nil {
						return err
					}
					defer sched.Stop()
				}

				srv := &http.Server{Addr: settings.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				log.Info("serving dashboard API",
					zap.String("addr", settings.Server.Addr),
					zap.String("base_path", settings.Server.BasePath),
					zap.Bool("broadcast", d.Bus.Available()))
				fmt.Printf("Serving plantdash API on http://%s%s (Swagger UI at /docs)\n", settings.Server.Addr, settings.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().String("base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose the development token endpoint")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run background jobs")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.base_path", cmd.Flags().Lookup("base-path"))
	return cmd
}

func tokenCmd() *cobra.Command {
	var user string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user required")
			}
			tok, err := server.SignToken(settings.JWTSecret, user, roles, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

// --- helpers ---

func withDatabase(ctx context.Context, fn func(context.Context, *app.Database) error) error {
	opts, err := app.OptionsFrom(settings, log)
	if err != nil {
		return err
	}
	d, err := app.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(ctx, d)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
