package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bountyline/internal/app"
	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/logging"
	"bountyline/internal/repo"
	"bountyline/internal/server"
	"bountyline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Bountyline CLI",
	Long: `Bountyline finds marketplace bounties, ranks them, generates the work and submits it
after a human says yes.
- Discovery run: fetch live listings -> rank them -> wait for you to pick slugs.
- Execution run: analyse one listing -> generate the deliverable -> publish it -> wait for your review -> submit.
- Runs are stored in .bountyline/runs.db, so a waiting run can be resumed later or from the HTTP API.
- Secrets come from the environment: SUPERTEAM_API_KEY, ANTHROPIC_API_KEY, TELEGRAM_HANDLE, BOUNTYLINE_JWT_SECRET.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BOUNTYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("superteam-api-key", "SUPERTEAM_API_KEY")
	_ = viper.BindEnv("superteam-base-url", "SUPERTEAM_BASE_URL")
	_ = viper.BindEnv("anthropic-api-key", "ANTHROPIC_API_KEY")
	_ = viper.BindEnv("anthropic-model", "ANTHROPIC_MODEL")
	_ = viper.BindEnv("telegram-handle", "TELEGRAM_HANDLE")
	_ = viper.BindEnv("jwt-secret", "BOUNTYLINE_JWT_SECRET")
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/bountyline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor recorded on run events")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(executeCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(listingsCmd())
	rootCmd.AddCommand(commentsCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(heartbeatCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "bountyline.yml holds the agent identity, API endpoints, code generation and publish settings. Secrets are never stored there.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default bountyline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every run transition is recorded: started, step completed, suspended, resumed, completed, failed.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Run", "Actor", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityID, "run", "", "run id filter")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				subject = viper.GetString("actor-id")
			}
			token, err := server.IssueToken(viper.GetString("jwt-secret"), subject)
			if err != nil {
				return fmt.Errorf("%w (set BOUNTYLINE_JWT_SECRET)", err)
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (default --actor-id)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP review API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{JWTSecret: a.Config.Server.JWTSecret, Logger: a.Logger}
				if authCfg.JWTSecret == "" {
					a.Logger.Warn("BOUNTYLINE_JWT_SECRET not set; API is unauthenticated")
				}
				handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg, Logger: a.Logger})
				if err != nil {
					return err
				}
				go server.NewWebhookDispatcher(a.Engine.Repo, a.Config.Webhooks, a.Logger).Run(ctx)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Bountyline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	cfg.ApplySecrets(config.Secrets{
		MarketplaceBaseURL: viper.GetString("superteam-base-url"),
		MarketplaceToken:   viper.GetString("superteam-api-key"),
		ModelToken:         viper.GetString("anthropic-api-key"),
		ModelName:          viper.GetString("anthropic-model"),
		ContactHandle:      viper.GetString("telegram-handle"),
		JWTSecret:          viper.GetString("jwt-secret"),
	})
	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, cfg.Validate()
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog := logging.Setup(cfg.Logging.Level, cfg.Logging.File)
	defer closeLog()
	slog.SetDefault(logger)
	a, err := app.Build(ctx, viper.GetString("workspace"), cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()
	ctx = workflow.WithActor(ctx, viper.GetString("actor-id"))
	return fn(ctx, a)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine.Repo)
	})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
