package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"rxgate/config"
	"rxgate/internal/app"
	"rxgate/internal/audit"
	"rxgate/internal/redis"
	"rxgate/pkg/database"
	"rxgate/pkg/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	deadLetterLimit int
	cmdTimeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "outboxctl",
	Short:         "Operate the consult-approval outbox",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Backfill approval events for recently approved consultations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOutbox(cmd.Context(), func(ctx context.Context, o app.Outbox, _ app.Repositories) error {
			n, err := o.Reconciler.Reconcile(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d event(s)\n", n)
			return nil
		})
	},
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run one reconcile and dispatch pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOutbox(cmd.Context(), func(ctx context.Context, o app.Outbox, _ app.Repositories) error {
			n, res, err := o.Runner.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reconciled=%d claimed=%d delivered=%d retried=%d dead_lettered=%d skipped=%d\n",
				n, res.Claimed, res.Delivered, res.Retried, res.DeadLetters, res.Skipped)
			return nil
		})
	},
}

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List dead-lettered events",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOutbox(cmd.Context(), func(ctx context.Context, _ app.Outbox, repos app.Repositories) error {
			events, err := repos.Outbox.ListDeadLetters(ctx, deadLetterLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tBUSINESS\tATTEMPTS\tFALLBACK\tLAST ERROR")
			for _, e := range events {
				fallback := "-"
				if e.FallbackEmailSentAt != nil {
					fallback = e.FallbackEmailSentAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", e.ID, e.Type, e.BusinessID, e.Attempts, fallback, e.LastError)
			}
			return w.Flush()
		})
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <event-id>",
	Short: "Reset a dead-lettered event to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid event id %q: %w", args[0], err)
		}
		return withOutbox(cmd.Context(), func(ctx context.Context, _ app.Outbox, repos app.Repositories) error {
			if err := repos.Outbox.Requeue(ctx, id); err != nil {
				return fmt.Errorf("requeue %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", id)
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&cmdTimeout, "timeout", 5*time.Minute, "Overall command timeout")
	deadLettersCmd.Flags().IntVar(&deadLetterLimit, "limit", 100, "Maximum events to list")
	rootCmd.AddCommand(reconcileCmd, dispatchCmd, deadLettersCmd, requeueCmd)
}

// withOutbox connects to Postgres and Redis, builds the pipeline and runs fn.
func withOutbox(parent context.Context, fn func(ctx context.Context, o app.Outbox, repos app.Repositories) error) error {
	cfg := config.LoadConfig()
	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, cancel := context.WithTimeout(parent, cmdTimeout)
	defer cancel()

	database.Connect(cfg)
	defer database.Close()
	if cfg.UseRedisClaimLock || strings.EqualFold(cfg.AuditSink, "redis") {
		redis.Initialize(redis.Config{Host: cfg.RedisHost, Port: cfg.RedisPort, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	}

	sink, err := app.NewAuditSink(cfg)
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(sink, 0)
	defer recorder.Close()

	email, err := app.NewEmailSender(ctx, cfg)
	if err != nil {
		return err
	}
	repos := app.NewPostgresRepositories(database.DB)
	return fn(ctx, app.NewOutbox(cfg, repos, email, recorder), repos)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
