package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinic/ledger/internal/config"
	"github.com/clinic/ledger/internal/platform/auth"
	"github.com/clinic/ledger/internal/platform/db"
	"github.com/clinic/ledger/migrations"
)

func main() {
	// .env is optional; viper reads it again but godotenv makes it visible to
	// AutomaticEnv for keys that are not bound explicitly.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "ledger-server",
		Short: "Clinic billing and invoice ledger",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(invoicesCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, 0)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS)
			var count int
			if target > 0 {
				count, err = migrator.UpTo(ctx, target)
			} else {
				count, err = migrator.Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies everything)")
	cmd.AddCommand(upCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, 0)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				fmt.Println(formatStatus(s))
			}
			return nil
		},
	})

	return cmd
}

func formatStatus(s db.MigrationStatus) string {
	status := "pending"
	appliedAt := ""
	if s.Applied {
		status = "applied"
		if s.AppliedAt != nil {
			appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
		}
	}
	return fmt.Sprintf("%-10d %-40s %-10s %s", s.Version, s.Name, status, appliedAt)
}

func invoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Invoice maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh-status",
		Short: "Re-derive the status of every open invoice (marks overdue)",
		Long: `Re-derive the status of every open invoice (marks overdue).

With REDIS_URL set the sweep takes the writer lease and keeps it refreshed
while it runs, so it fails fast while a serve process holds the lease. Stop
the server first; single invoices can be re-derived through
POST /api/v1/invoices/:id/recompute-status while it runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.TxTimeout)
			if err != nil {
				return err
			}
			defer pool.Close()

			app, err := buildApp(cfg, pool, logger)
			if err != nil {
				return err
			}

			lease, err := acquireLease(ctx, cfg, logger)
			if err != nil {
				return err
			}
			sweepCtx := ctx
			if lease != nil {
				defer lease.Release(context.Background())
				var release context.CancelFunc
				sweepCtx, release = holdLease(ctx, lease, logger)
				defer release()
			}

			// uuid.Nil records the sweep as a system action.
			changed, err := app.invoices.RefreshStatuses(sweepCtx, uuid.Nil)
			if lost := leaseLost(sweepCtx); lost != nil {
				return fmt.Errorf("refresh statuses aborted after %d change(s): %w", changed, lost)
			}
			if err != nil {
				return fmt.Errorf("refresh statuses: %w", err)
			}
			fmt.Printf("Updated %d invoice(s).\n", changed)
			return nil
		},
	})

	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API credentials",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("actor")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := issueToken(cfg, actor, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	issueCmd.Flags().String("actor", "", "Actor UUID recorded on every mutation")
	issueCmd.Flags().StringSlice("role", []string{auth.RoleBilling}, "Role to grant (admin, billing, reception); repeatable")
	issueCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	cmd.AddCommand(issueCmd)

	return cmd
}

var knownRoles = map[string]bool{
	auth.RoleAdmin:     true,
	auth.RoleBilling:   true,
	auth.RoleReception: true,
}

func issueToken(cfg *config.Config, actor string, roles []string, ttl time.Duration) (string, error) {
	if cfg.AuthSecret == "" {
		return "", errors.New("AUTH_SECRET is not set")
	}
	id, err := uuid.Parse(actor)
	if err != nil || id == uuid.Nil {
		return "", fmt.Errorf("--actor must be a non-nil UUID, got %q", actor)
	}
	if len(roles) == 0 {
		return "", errors.New("at least one --role is required")
	}
	for _, r := range roles {
		if !knownRoles[r] {
			return "", fmt.Errorf("unknown role %q", r)
		}
	}
	if ttl <= 0 {
		return "", fmt.Errorf("--ttl must be positive, got %s", ttl)
	}
	return auth.IssueToken([]byte(cfg.AuthSecret), authIssuer, id, roles, ttl)
}
