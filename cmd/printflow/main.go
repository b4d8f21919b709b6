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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"printflow/internal/app"
	"printflow/internal/config"
	"printflow/internal/db"
	"printflow/internal/domain"
	"printflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "printflow",
	Short: "Printflow CLI",
	Long: `Printflow moves signage orders through design, print and delivery.
Core concepts:
- Order: a customer request with panel and oneway items. Status goes CREATED -> DESIGN -> PRINT -> DELIVERY -> DONE_IN_STOCK.
- Task: one stage of an order, assigned by an ADMIN to a DESIGNER, IMPRIMEUR or LOGISTIQUE user.
- Review: an ADMIN validates or rejects finished work; rejected work goes back to the assignee.
- Workspace: the directory holding printflow.yml, .env and the .printflow database.`,
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
	viper.SetEnvPrefix("PRINTFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("as", 0, "acting user id (defaults to the first ADMIN)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(reminderCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create printflow.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				admins, err := rt.Engine.Repo.ListUsers(ctx, domain.RoleAdmin)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"config": path, "admins": admins})
				}
				fmt.Printf("Wrote %s\n", path)
				for _, u := range admins {
					fmt.Printf("Admin: #%d %s\n", u.ID, u.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing printflow.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in printflow.yml. Secrets (PRINTFLOW_JWT_SECRET, PRINTFLOW_MINIO_ACCESS_KEY, PRINTFLOW_MINIO_SECRET_KEY) may come from the environment or .env.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	if err := app.LoadEnv(workspace); err != nil {
		return nil, err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	app.ApplyEnv(cfg)
	return cfg, nil
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret != "" {
				cfg.Server.JWTSecret = "***"
			}
			if cfg.Storage.Minio.SecretKey != "" {
				cfg.Storage.Minio.SecretKey = "***"
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate printflow.yml",
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

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:         cfg.Server.JWTSecret,
					AllowUserIDHeader: cfg.Server.AllowUserIDHeader,
					DevLogin:          cfg.Server.DevAuth,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowUserIDHeader {
					return fmt.Errorf("PRINTFLOW_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg, Log: rt.Log.Named("http")})
				if err != nil {
					return err
				}
				if cfg.Reminders.Enabled {
					svc := rt.Reminders()
					if err := svc.Start(ctx, cfg.Reminders.Schedule); err != nil {
						return err
					}
					defer svc.Stop()
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					grace := time.Duration(cfg.Server.ShutdownGraceSeconds) * time.Second
					if grace <= 0 {
						grace = 5 * time.Second
					}
					sctx, cancel := context.WithTimeout(context.Background(), grace)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				rt.Log.Info("serving printflow API", zap.String("addr", addr), zap.String("base_path", basePath), zap.Bool("reminders", cfg.Reminders.Enabled))
				fmt.Printf("Serving Printflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from printflow.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from printflow.yml)")
	return cmd
}

func reminderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Stale task reminders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Send reminders for stale tasks once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				n, err := rt.Reminders().RunOnce(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"sent": n})
				}
				fmt.Printf("%d reminder(s) sent\n", n)
				return nil
			})
		},
	})
	return cmd
}

// --- helpers ---

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, viper.GetString("workspace"), nil)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// actingUser resolves --as, falling back to the oldest ADMIN.
func actingUser(ctx context.Context, rt *app.Runtime) (int64, error) {
	if id := viper.GetInt64("as"); id > 0 {
		return id, nil
	}
	admins, err := rt.Engine.Repo.ListUsers(ctx, domain.RoleAdmin)
	if err != nil {
		return 0, err
	}
	if len(admins) == 0 {
		return 0, errors.New("no ADMIN user; pass --as")
	}
	return admins[0].ID, nil
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
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

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
