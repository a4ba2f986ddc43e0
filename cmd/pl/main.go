package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pledgeline/internal/app"
	"pledgeline/internal/bus"
	"pledgeline/internal/config"
	"pledgeline/internal/db"
	"pledgeline/internal/domain"
	"pledgeline/internal/engine"
	"pledgeline/internal/migrate"
	"pledgeline/internal/repo"
	"pledgeline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Pledgeline CLI",
	Long: `Pledgeline is a public promise registry with wallet identities.
- Promises: public commitments with a deadline; they start active and resolve
  exactly once to completed or failed.
- Reputation: completing a promise earns points, failing costs some (never
  below zero); levels derive from reputation.
- Moderation: owners request deletion, the configured admin approves or
  rejects; approval removes the promise and adjusts the owner's counters.
- Event log: every mutation is recorded, view with 'pl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	viper.SetEnvPrefix("PLEDGELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("address", "", "wallet address acting on your behalf")
	rootCmd.PersistentFlags().String("registry", "", "registry id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("address", rootCmd.PersistentFlags().Lookup("address"))
	_ = viper.BindPFlag("registry", rootCmd.PersistentFlags().Lookup("registry"))
}

func registerCommands() {
	rootCmd.AddCommand(promiseCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(registryCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorAddress() (string, error) {
	addr := strings.TrimSpace(viper.GetString("address"))
	if addr == "" {
		return "", fmt.Errorf("--address required (or set PLEDGELINE_ADDRESS)")
	}
	return addr, nil
}

func promiseCmd() *cobra.Command {
	p := &cobra.Command{Use: "promise", Short: "Manage promises"}
	p.AddCommand(promiseCreateCmd())
	p.AddCommand(promiseListCmd())
	p.AddCommand(promiseShowCmd())
	p.AddCommand(promiseUpdateCmd())
	p.AddCommand(promiseCompleteCmd())
	p.AddCommand(promiseFailCmd())
	p.AddCommand(promiseRequestDeleteCmd())
	return p
}

func promiseCreateCmd() *cobra.Command {
	var message, category, difficulty, deadline string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Publish a promise",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := actorAddress()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreatePromise(ctx, engine.PromiseCreateOptions{
					Address:    addr,
					Message:    message,
					Category:   category,
					Difficulty: difficulty,
					Deadline:   deadline,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "promise text (max 200 chars)")
	cmd.Flags().StringVar(&category, "category", "", "category from the catalog")
	cmd.Flags().StringVar(&difficulty, "difficulty", "medium", "easy, medium or hard")
	cmd.Flags().StringVar(&deadline, "deadline", "", "RFC 3339 deadline, must be in the future")
	_ = cmd.MarkFlagRequired("message")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func promiseListCmd() *cobra.Command {
	var address, status, category string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List promises",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPromises(ctx, repo.PromiseFilters{
					Address:  address,
					Status:   status,
					Category: category,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				return printPromiseTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&address, "owner", "", "filter by owner address")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func promiseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a promise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetPromise(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func promiseUpdateCmd() *cobra.Command {
	var message, category, difficulty, deadline, proof string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit an active promise you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := actorAddress()
			if err != nil {
				return err
			}
			opts := engine.PromiseUpdateOptions{}
			if cmd.Flags().Changed("message") {
				opts.Message = &message
			}
			if cmd.Flags().Changed("category") {
				opts.Category = &category
			}
			if cmd.Flags().Changed("difficulty") {
				opts.Difficulty = &difficulty
			}
			if cmd.Flags().Changed("deadline") {
				opts.Deadline = &deadline
			}
			if cmd.Flags().Changed("proof") {
				opts.Proof = &proof
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateDetails(ctx, args[0], addr, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "promise text")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&difficulty, "difficulty", "", "difficulty")
	cmd.Flags().StringVar(&deadline, "deadline", "", "RFC 3339 deadline")
	cmd.Flags().StringVar(&proof, "proof", "", "proof link or note")
	return cmd
}

func promiseCompleteCmd() *cobra.Command {
	var proof string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Resolve a promise as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolvePromise(cmd.Context(), args[0], domain.StatusCompleted, proof)
		},
	}
	cmd.Flags().StringVar(&proof, "proof", "", "proof link or note")
	return cmd
}

func promiseFailCmd() *cobra.Command {
	var proof string
	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Resolve a promise as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolvePromise(cmd.Context(), args[0], domain.StatusFailed, proof)
		},
	}
	cmd.Flags().StringVar(&proof, "proof", "", "proof link or note")
	return cmd
}

func resolvePromise(ctx context.Context, id, status, proof string) error {
	addr, err := actorAddress()
	if err != nil {
		return err
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		p, err := e.TransitionStatus(ctx, id, addr, status, proof)
		if err != nil {
			return err
		}
		return printJSONOrTable(p)
	})
}

func promiseRequestDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request-delete <id>",
		Short: "Ask the admin to delete a promise you own",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := actorAddress()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dr, err := e.RequestDelete(ctx, args[0], addr)
				if err != nil {
					return err
				}
				return printJSONOrTable(dr)
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "User reputation"}
	u.AddCommand(userStatsCmd())
	return u
}

func userStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [address]",
		Short: "Show a user's reputation profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			} else if addr, err := actorAddress(); err == nil {
				target = addr
			}
			if target == "" {
				return fmt.Errorf("address required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUser(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func adminCmd() *cobra.Command {
	a := &cobra.Command{Use: "admin", Short: "Moderation (admin address only)"}
	a.AddCommand(adminRequestsCmd())
	a.AddCommand(adminApproveCmd())
	a.AddCommand(adminRejectCmd())
	a.AddCommand(adminProgressCmd())
	a.AddCommand(adminUsersCmd())
	a.AddCommand(adminSessionsCmd())
	return a
}

func adminRequestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List pending delete requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := actorAddress()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListPendingDeleteRequests(ctx, addr)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func adminApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a delete request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := actorAddress()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dr, err := e.ApproveDelete(ctx, args[0], addr)
				if err != nil {
					return err
				}
				return printJSONOrTable(dr)
			})
		},
	}
	return cmd
}

func adminRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a delete request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := actorAddress()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dr, err := e.RejectDelete(ctx, args[0], addr)
				if err != nil {
					return err
				}
				return printJSONOrTable(dr)
			})
		},
	}
	return cmd
}

func adminProgressCmd() *cobra.Command {
	var progress int
	cmd := &cobra.Command{
		Use:   "set-progress <promise-id>",
		Short: "Pin an adjusted progress percentage on a promise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := actorAddress()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AdminSetProgress(ctx, args[0], addr, progress)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().IntVar(&progress, "progress", 0, "0-100")
	_ = cmd.MarkFlagRequired("progress")
	return cmd
}

func adminUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List all users by reputation",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := actorAddress()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !e.Config.IsAdmin(addr) {
					return fmt.Errorf("admin credential required")
				}
				items, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				return printUserTable(items)
			})
		},
	}
	return cmd
}

func adminSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List visitor sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := actorAddress()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !e.Config.IsAdmin(addr) {
					return fmt.Errorf("admin credential required")
				}
				items, err := e.Repo.ListSessions(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Registry-wide statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				gs, err := e.GlobalStats(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(gs)
			})
		},
	}
	return cmd
}

func sessionCmd() *cobra.Command {
	var sessionID, ip string
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Record a visitor session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RecordSession(ctx, sessionID, ip)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "id", "", "session id")
	cmd.Flags().StringVar(&ip, "ip", "", "client ip")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func registryCmd() *cobra.Command {
	r := &cobra.Command{Use: "registry", Short: "Manage registry config"}
	r.AddCommand(registryConfigCmd())
	return r
}

func registryConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Registry config stored in DB"}
	cfg.AddCommand(registryConfigShowCmd())
	cfg.AddCommand(registryConfigImportCmd())
	cfg.AddCommand(registryConfigInitCmd())
	return cfg
}

func registryConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show registry config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func registryConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import registry config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertRegistryConfig(ctx, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func registryConfigInitCmd() *cobra.Command {
	var registryID, adminAddress string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default pledgeline.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if adminAddress == "" {
				return fmt.Errorf("--admin required")
			}
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(registryID, adminAddress)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&registryID, "id", "default-registry", "registry id")
	cmd.Flags().StringVar(&adminAddress, "admin", "", "admin wallet address")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: promise changes, resolutions, moderation decisions.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, viper.GetString("registry"), r)
			if err != nil {
				return err
			}
			b := bus.New()
			defer b.Close()
			e := engine.New(conn, cfg, b)
			authCfg := server.AuthConfig{
				JWTSecret:               os.Getenv("PLEDGELINE_JWT_SECRET"),
				AllowLegacyWalletHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PLEDGELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Pledgeline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-wallet-header", false, "accept X-Wallet-Address without a token (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, workspace, viper.GetString("registry"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, nil)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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

func printPromiseTable(items []domain.Promise) error {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Owner", "Message", "Category", "Status", "Deadline"})
	for _, p := range items {
		t.AppendRow(table.Row{p.ID, p.Address, truncateMessage(p.Message, 40), p.Category, p.Status, p.Deadline})
	}
	t.Render()
	return nil
}

// truncateMessage shortens long messages for table cells without splitting
// multi-byte runes.
func truncateMessage(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func printUserTable(items []domain.User) error {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Address", "Reputation", "Level", "Completed", "Failed", "Total", "Streak"})
	for _, u := range items {
		t.AppendRow(table.Row{u.Address, u.Reputation, u.Level, u.CompletedPromises, u.FailedPromises, u.TotalPromises, u.Streak})
	}
	t.Render()
	return nil
}
