package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"launchline/internal/app"
	"launchline/internal/bulk"
	"launchline/internal/logging"
	"launchline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "lp",
	Short: "Launchline CLI",
	Long: `Launchline drives a creator brand from onboarding to launch.
- Workspace: the .launchline directory holding the database; launchline.yml (optional) seeds new projects.
- Project: one brand launch with eight ordered phases, exactly one in progress at a time.
- Phases: advance one step at a time; a phase can demand approved approval requests before it closes.
- Approvals: a message sent to reviewers; every reviewer answers once, approved or changes requested.
- Readiness: a launch score computed from the deliverables each workspace module records.
- Bulk: apply a status, lead or archive to many projects; each project succeeds or fails on its own.
- Event log: every change, view with 'lp log tail'.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LAUNCHLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("project", "", "project id (defaults to the only project in the workspace)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.Int("bulk-parallelism", bulk.DefaultParallelism, "concurrent targets per bulk operation")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "log-level", "bulk-parallelism"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(phaseCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(readinessCmd())
	rootCmd.AddCommand(bulkCmd())
	rootCmd.AddCommand(deliverableCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() (*zap.Logger, error) {
	return logging.New(viper.GetString("log-level"))
}

func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	s, err := app.Open(ctx, app.Options{
		Workspace:       viper.GetString("workspace"),
		Project:         viper.GetString("project"),
		Logger:          logger,
		BulkParallelism: viper.GetInt("bulk-parallelism"),
	})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// withProject is withSession plus the resolved target project.
func withProject(ctx context.Context, fn func(context.Context, *app.Session, string) error) error {
	return withSession(ctx, func(ctx context.Context, s *app.Session) error {
		projectID, err := s.ProjectID(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, s, projectID)
	})
}

func actorID() string {
	return viper.GetString("actor-id")
}

func serveCmd() *cobra.Command {
	var basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: viper.GetBool("allow-legacy-actor-header"),
				EnableDevLogin:         viper.GetBool("dev-login"),
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("LAUNCHLINE_JWT_SECRET (or --jwt-secret) is required for bearer auth")
			}
			addr := viper.GetString("addr")
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				logger := s.Engine.Logger
				authCfg.Logger = logger
				handler, err := server.New(server.Config{
					Engine:   s.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving launchline api",
					zap.String("addr", addr),
					zap.String("base_path", basePath))
				fmt.Printf("Serving Launchline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().Bool("allow-legacy-actor-header", false, "trust X-Actor-Id without credentials (local use only)")
	cmd.Flags().Bool("dev-login", false, "expose POST /auth/dev/login")
	for _, name := range []string{"addr", "jwt-secret", "allow-legacy-actor-header", "dev-login"} {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// output prints v as JSON under --json, otherwise calls render.
func output(v any, render func()) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	render()
	return nil
}
