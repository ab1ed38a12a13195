package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/obhistory/internal/config"
	"github.com/ehr/obhistory/internal/domain/obstetrics"
	"github.com/ehr/obhistory/internal/platform/auth"
	"github.com/ehr/obhistory/internal/platform/db"
	"github.com/ehr/obhistory/migrations"
	"github.com/ehr/obhistory/pkg/obclient"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "obhistory-server",
		Short:        "Obstetric history API server and calculators",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(calcCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	if lvl, err := cfg.ZerologLevel(); err == nil {
		logger = logger.Level(lvl)
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the obstetric history API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stdout)
			if err := cfg.Validate(); err != nil {
				logger.Error().Err(err).Msg("invalid configuration")
				return err
			}
			if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
				logger.Warn().Msg("development auth is active: requests without a token run as admin")
			}
			return runServer(cfg, logger)
		},
	}
}

// openMigrator connects to the configured database. An empty schema means
// DB_SCHEMA; the resolved schema is returned.
func openMigrator(ctx context.Context, schema string) (*db.Migrator, string, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, "", nil, fmt.Errorf("DATABASE_URL is required")
	}
	if schema == "" {
		schema = cfg.DBSchema
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, schema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, "", nil, err
	}
	return db.NewMigrator(pool, migrations.FS), schema, pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			ctx := context.Background()
			migrator, schema, closePool, err := openMigrator(ctx, schema)
			if err != nil {
				return err
			}
			defer closePool()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			ctx := context.Background()
			migrator, schema, closePool, err := openMigrator(ctx, schema)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(out io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func calcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Pregnancy date calculators",
	}

	gaCmd := &cobra.Command{
		Use:   "ga",
		Short: "Gestational age from LMP",
		RunE: func(cmd *cobra.Command, args []string) error {
			lmp, _ := cmd.Flags().GetString("lmp")
			asOf, _ := cmd.Flags().GetString("as-of")
			if asOf == "" {
				asOf = obstetrics.NewDate(time.Now()).String()
			}
			ga, err := obstetrics.GestationalAgeFromString(lmp, asOf)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ga.String())
			return nil
		},
	}
	gaCmd.Flags().String("lmp", "", "Last menstrual period (YYYY-MM-DD)")
	gaCmd.Flags().String("as-of", "", "Reference date (YYYY-MM-DD, default today)")
	_ = gaCmd.MarkFlagRequired("lmp")
	cmd.AddCommand(gaCmd)

	eddCmd := &cobra.Command{
		Use:   "edd",
		Short: "Estimated delivery date from LMP",
		RunE: func(cmd *cobra.Command, args []string) error {
			lmp, _ := cmd.Flags().GetString("lmp")
			edd, err := obstetrics.EDDFromString(lmp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), edd)
			return nil
		},
	}
	eddCmd.Flags().String("lmp", "", "Last menstrual period (YYYY-MM-DD)")
	_ = eddCmd.MarkFlagRequired("lmp")
	cmd.AddCommand(eddCmd)

	return cmd
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Fetch a case's obstetric summary from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			caseStr, _ := cmd.Flags().GetString("case")
			asOfStr, _ := cmd.Flags().GetString("as-of")
			token, _ := cmd.Flags().GetString("token")

			caseID, err := uuid.Parse(caseStr)
			if err != nil {
				return fmt.Errorf("--case must be a UUID: %w", err)
			}
			var asOf *time.Time
			if asOfStr != "" {
				d, err := obstetrics.ParseDate(asOfStr)
				if err != nil {
					return err
				}
				asOf = &d.Time
			}

			var opts []obclient.Option
			if token != "" {
				opts = append(opts, obclient.WithToken(token))
			}
			summary, err := obclient.New(server, opts...).Summary(cmd.Context(), caseID, asOf)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().String("server", "http://localhost:8000", "API base URL")
	cmd.Flags().String("case", "", "Case ID")
	cmd.Flags().String("as-of", "", "Reference date (YYYY-MM-DD, default server today)")
	cmd.Flags().String("token", "", "Bearer token")
	_ = cmd.MarkFlagRequired("case")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token using AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetString("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := auth.SignToken(auth.JWTConfig{
				Issuer:     cfg.AuthIssuer,
				Audience:   cfg.AuthAudience,
				SigningKey: []byte(cfg.AuthSigningKey),
			}, subject, strings.Split(roles, ","), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "User ID placed in the sub claim")
	cmd.Flags().String("roles", "physician", "Comma-separated roles")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
