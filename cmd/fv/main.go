package main

import (
	"context"
	"crypto/sha256"
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
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"fastvote/internal/app"
	"fastvote/internal/config"
	"fastvote/internal/db"
	"fastvote/internal/domain"
	"fastvote/internal/engine"
	"fastvote/internal/metrics"
	"fastvote/internal/repo"
	"fastvote/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fv",
	Short: "Fastvote CLI",
	Long: `Fastvote runs short, time-boxed votes on proposed actions.
- Action: a proposal identified by a numeric id. It opens at the current tick and
  stays open for the configured voting window.
- Vote: one for/against ballot per voter identity, accepted while the deadline
  tick has not passed.
- Finalize: after the deadline, tallies the votes against the action's approval
  threshold and hands the final record off to durable storage.
- Cancel: the creator may withdraw an action that has not been executed.
- Ticks: the logical clock (fixed-length slots since genesis). See 'fv clock now'.
- Event log: every mutation is recorded; view it with 'fv log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	// A missing .env is fine; explicit environment still wins.
	_ = godotenv.Load()
	viper.SetEnvPrefix("FASTVOTE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(clockCmd())
	rootCmd.AddCommand(handoffCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func setupLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func actorIdentity() domain.Identity {
	return domain.IdentityFor(viper.GetString("actor-id"))
}

// --- actions ---

func actionCmd() *cobra.Command {
	act := &cobra.Command{
		Use:   "action",
		Short: "Create, inspect and settle actions",
	}
	act.AddCommand(actionCreateCmd())
	act.AddCommand(actionDelegateCmd())
	act.AddCommand(actionShowCmd())
	act.AddCommand(actionListCmd())
	act.AddCommand(actionVotesCmd())
	act.AddCommand(actionFinalizeCmd())
	act.AddCommand(actionCancelCmd())
	act.AddCommand(actionAuditCmd())
	act.AddCommand(actionCommitCmd())
	return act
}

func actionCreateCmd() *cobra.Command {
	var id uint64
	var hashHex, text, descHex, desc string
	var threshold int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open an action for voting",
		Long:  "Opens an action owned by --actor-id. Pass the action hash as hex (--hash) or let it be computed from --text.",
		RunE: func(cmd *cobra.Command, args []string) error {
			actionHash, err := hashFlag("hash", hashHex, text)
			if err != nil {
				return err
			}
			descHash, err := hashFlag("description-hash", descHex, desc)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAction(ctx, engine.ActionCreateOptions{
					ActionID:        id,
					ActionHash:      actionHash,
					DescriptionHash: descHash,
					Threshold:       threshold,
					Creator:         actorIdentity(),
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "action id")
	cmd.Flags().StringVar(&hashHex, "hash", "", "action hash (hex)")
	cmd.Flags().StringVar(&text, "text", "", "action text; hashed with SHA-256 when --hash is not set")
	cmd.Flags().StringVar(&descHex, "description-hash", "", "description hash (hex)")
	cmd.Flags().StringVar(&desc, "description", "", "description; hashed with SHA-256 when --description-hash is not set")
	cmd.Flags().IntVar(&threshold, "threshold", 51, "approval percentage required to pass (1-100)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func actionDelegateCmd() *cobra.Command {
	var id uint64
	var expected, validator string
	cmd := &cobra.Command{
		Use:   "delegate",
		Short: "Hand an open action to the fast execution context",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.DelegateOptions{ActionID: id, ActorID: viper.GetString("actor-id")}
			if expected != "" {
				k, err := domain.ParseHash(expected)
				if err != nil {
					return fmt.Errorf("--expected-key: %w", err)
				}
				opts.ExpectedKey = &k
			}
			if validator != "" {
				v, err := domain.ParseHash(validator)
				if err != nil {
					return fmt.Errorf("--validator: %w", err)
				}
				opts.Validator = &v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.DelegateAction(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "action id")
	cmd.Flags().StringVar(&expected, "expected-key", "", "record key the action must live under (hex)")
	cmd.Flags().StringVar(&validator, "validator", "", "validator identity (hex)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func actionShowCmd() *cobra.Command {
	var id uint64
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an action",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetAction(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "action id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func actionListCmd() *cobra.Command {
	var result, creator string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.ActionFilters{Limit: limit}
			if result != "" {
				r, err := domain.ParseResult(result)
				if err != nil {
					return err
				}
				f.Result = r.String()
			}
			if creator != "" {
				f.Creator = domain.IdentityFor(creator).String()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListActions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Result", "For", "Against", "Votes", "Threshold", "Deadline", "Key"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ActionID, a.Result, a.VotesFor, a.VotesAgainst, a.VoteCount, a.Threshold, a.DeadlineTick, shortHash(a.Key)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "result filter (pending, passed, failed, cancelled)")
	cmd.Flags().StringVar(&creator, "creator", "", "creator actor id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max actions")
	return cmd
}

func actionVotesCmd() *cobra.Command {
	var id uint64
	var value string
	var limit int
	cmd := &cobra.Command{
		Use:   "votes",
		Short: "List the votes of an action",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.VoteFilters{Limit: limit}
			if value != "" {
				v, err := parseVoteValue(value)
				if err != nil {
					return err
				}
				f.Value = &v
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListVotes(ctx, id, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Voter", "Vote", "Tick", "At"})
				for _, v := range items {
					tw.AppendRow(table.Row{shortHash(v.Voter), voteLabel(v.Value), v.VotedTick, v.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "action id")
	cmd.Flags().StringVar(&value, "value", "", "filter by vote (for, against)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max votes (0 for all)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func actionFinalizeCmd() *cobra.Command {
	var id uint64
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Tally an action after its deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.FinalizeAction(ctx, engine.FinalizeOptions{ActionID: id, ActorID: viper.GetString("actor-id")})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "action id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func actionCancelCmd() *cobra.Command {
	var id uint64
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Withdraw an action (creator only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CancelAction(ctx, engine.CancelOptions{
					ActionID: id,
					Caller:   actorIdentity(),
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "action id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func actionAuditCmd() *cobra.Command {
	var id uint64
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Recount stored votes and compare with counters and the committed record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Audit(ctx, id)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(rep); err != nil {
					return err
				}
				if !rep.Consistent {
					return fmt.Errorf("action %d is inconsistent", id)
				}
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "action id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func actionCommitCmd() *cobra.Command {
	var id uint64
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Show the record committed at finalize",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, ts, err := e.CommittedRecord(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"action": a, "committed_at": ts})
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "action id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// --- votes ---

func voteCmd() *cobra.Command {
	v := &cobra.Command{Use: "vote", Short: "Cast votes"}
	v.AddCommand(voteCastCmd())
	return v
}

func voteCastCmd() *cobra.Command {
	var id uint64
	var value, commitment string
	cmd := &cobra.Command{
		Use:   "cast",
		Short: "Cast one vote as --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVoteValue(value)
			if err != nil {
				return err
			}
			c, err := domain.ParseHash(commitment)
			if err != nil {
				return fmt.Errorf("--commitment: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				vote, a, err := e.CastVote(ctx, engine.VoteCastOptions{
					ActionID:   id,
					Voter:      actorIdentity(),
					Value:      v,
					Commitment: c,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"vote": vote, "action": a})
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "action id")
	cmd.Flags().StringVar(&value, "value", "", "for or against")
	cmd.Flags().StringVar(&commitment, "commitment", "", "voter commitment (non-zero hex)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("value")
	_ = cmd.MarkFlagRequired("commitment")
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in fastvote.yml in the workspace: voting window, quorum, vote cap, tick clock, handoff driver, server and webhooks. Without the file the defaults apply.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default fastvote.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
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

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate fastvote.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
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

// --- api keys ---

func keyCmd() *cobra.Command {
	k := &cobra.Command{Use: "key", Short: "Manage API keys"}
	k.AddCommand(keyCreateCmd())
	k.AddCommand(keyListCmd())
	k.AddCommand(keyRevokeCmd())
	return k
}

func keyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for --actor-id; the secret is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw, key, err := r.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"key": raw, "id": key.ID, "actor_id": key.ActorID, "name": key.Name})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func keyListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := viper.GetString("actor-id")
			if all {
				actor = ""
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list keys of every actor")
	return cmd
}

func keyRevokeCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Delete an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, id); err != nil {
					return err
				}
				fmt.Println("revoked", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "key id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// --- clock ---

func clockCmd() *cobra.Command {
	c := &cobra.Command{Use: "clock", Short: "Inspect the logical clock"}
	c.AddCommand(&cobra.Command{
		Use:   "now",
		Short: "Print the current tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				genesis, err := e.Config.GenesisTime()
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"tick":          e.Tick(),
					"genesis":       genesis.Format(time.RFC3339),
					"tick_ms":       e.Config.Clock.TickMillis,
					"voting_window": e.Config.Voting.WindowTicks,
				})
			})
		},
	})
	return c
}

// --- handoff ---

func handoffCmd() *cobra.Command {
	h := &cobra.Command{
		Use:   "handoff",
		Short: "Inspect and retry archive delivery",
		Long:  "Finalize always records into the local ledger. With the redis or leveldb driver the record is then sent to the archive; records the archive missed stay pending until retried.",
	}
	h.AddCommand(handoffPendingCmd())
	h.AddCommand(handoffRetryCmd())
	return h
}

func handoffPendingCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List finalized records not yet archived",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if e.Archive == nil {
					return fmt.Errorf("handoff driver %q has no archive", e.Config.Handoff.Driver)
				}
				pending, err := e.PendingArchive(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(pending)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Action", "Committed at"})
				for _, p := range pending {
					tw.AppendRow(table.Row{shortHash(p.Action), p.CommittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max records")
	return cmd
}

func handoffRetryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-send pending records to the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if e.Archive == nil {
					return fmt.Errorf("handoff driver %q has no archive", e.Config.Handoff.Driver)
				}
				n, err := e.RetryArchive(ctx, limit)
				fmt.Println("delivered", n)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max records per run")
	return cmd
}

// --- log ---

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Read the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := slog.Default()
			ws, err := app.Open(ctx, viper.GetString("workspace"), app.Options{
				Logger:  logger,
				Metrics: metrics.PromEngineMetrics(),
			})
			if err != nil {
				return err
			}
			defer ws.Close()

			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: allowLegacy,
				DevLogin:               ws.Config.Server.DevLogin,
				Logger:                 logger,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("FASTVOTE_JWT_SECRET is required for bearer auth")
			}
			if basePath == "" {
				basePath = ws.Config.Server.BasePath
			}
			apiMetrics := metrics.PromAPIMetrics()
			var limiter *server.RateLimiter
			if rl := ws.Config.Server.RateLimit; rl.RPS > 0 {
				limiter = server.NewRateLimiter(ctx, rl.RPS, rl.Burst, apiMetrics)
			}
			handler, err := server.New(server.Config{
				Engine:      ws.Engine,
				BasePath:    basePath,
				Auth:        authCfg,
				Metrics:     apiMetrics,
				RateLimiter: limiter,
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(ctx, ws.Engine, logger)
			retryCtx, stopRetry := context.WithCancel(ctx)
			retryDone := make(chan struct{})
			go func() {
				defer close(retryDone)
				ws.Engine.RunArchiveRetry(retryCtx, ws.Config.RetryInterval())
			}()
			defer func() {
				stopRetry()
				<-retryDone
			}()

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Fastvote API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "trust X-Actor-Id without credentials")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"), app.Options{Logger: slog.Default()})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"), app.Options{Logger: slog.Default()})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine.Repo)
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

// hashFlag parses hexValue, or hashes text when hexValue is empty. Both empty
// yields the zero hash.
func hashFlag(name, hexValue, text string) (domain.Hash, error) {
	if hexValue != "" {
		h, err := domain.ParseHash(hexValue)
		if err != nil {
			return domain.Hash{}, fmt.Errorf("--%s: %w", name, err)
		}
		return h, nil
	}
	if text == "" {
		return domain.Hash{}, nil
	}
	return domain.Hash(sha256.Sum256([]byte(text))), nil
}

func parseVoteValue(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "for", "yes", "true", "1":
		return true, nil
	case "against", "no", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid vote %q; use for or against", s)
}

func voteLabel(v bool) string {
	if v {
		return "for"
	}
	return "against"
}

func shortHash(h domain.Hash) string {
	return h.String()[:12]
}
