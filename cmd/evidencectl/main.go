// Command evidencectl is the ops CLI for the evidence pipeline: inspect
// records, dump custody trails, and trigger one-off integrity checks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/josephversace/caile-evidence/internal/audit"
	"github.com/josephversace/caile-evidence/internal/config"
	"github.com/josephversace/caile-evidence/internal/database"
	"github.com/josephversace/caile-evidence/internal/monitor"
	"github.com/josephversace/caile-evidence/internal/objectstore"
	"github.com/josephversace/caile-evidence/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "evidencectl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evidencectl",
		Short: "Evidence pipeline ops CLI",
		Long: `evidencectl talks directly to the evidence database and object store for
operational tasks: inspecting a record, dumping its chain of custody, and
running an integrity check outside the scheduled sweep.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newShowCmd(),
		newAuditCmd(),
		newVerifyCmd(),
		newDownloadURLCmd(),
	)
	return cmd
}

// deps carries the shared wiring every subcommand needs.
type deps struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	evidence *store.PostgresStore
	auditor  *audit.PostgresLogger
}

func connect(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &deps{
		cfg:      cfg,
		pool:     pool,
		evidence: store.NewPostgresStore(pool),
		auditor:  audit.NewPostgresLogger(pool),
	}, nil
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <evidence-id>",
		Short: "Print an evidence record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := connect(ctx)
			if err != nil {
				return err
			}
			defer d.pool.Close()
			ev, err := d.evidence.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(ev)
		},
	}
}

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <evidence-id>",
		Short: "Print the chain of custody for a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := connect(ctx)
			if err != nil {
				return err
			}
			defer d.pool.Close()
			history, err := d.auditor.GetEntityHistory(ctx, args[0])
			if err != nil {
				return err
			}
			for _, ev := range history {
				fmt.Printf("%6d  %-30s  %-24s  success=%-5v  %s\n",
					ev.Seq, ev.Action, ev.Timestamp.Format(time.RFC3339), ev.Success, ev.Details)
			}
			return nil
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <evidence-id>",
		Short: "Run an integrity check on one record now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := connect(ctx)
			if err != nil {
				return err
			}
			defer d.pool.Close()
			gateway, err := objectstore.NewMinioGateway(d.cfg)
			if err != nil {
				return fmt.Errorf("init object storage: %w", err)
			}
			log := zerolog.New(os.Stderr).With().Timestamp().Logger()
			mon := monitor.New(d.evidence, gateway, d.auditor, &monitor.LogAlerter{Log: log}, d.cfg.IntegrityInterval, log)
			if err := mon.CheckByID(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println("integrity check passed")
			return nil
		},
	}
}

func newDownloadURLCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "download-url <evidence-id>",
		Short: "Issue a signed read URL for a record's stored object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			d, err := connect(ctx)
			if err != nil {
				return err
			}
			defer d.pool.Close()
			ev, err := d.evidence.Get(ctx, args[0])
			if err != nil {
				return err
			}
			gateway, err := objectstore.NewMinioGateway(d.cfg)
			if err != nil {
				return fmt.Errorf("init object storage: %w", err)
			}
			url, err := gateway.PresignDownload(ctx, ev.StoragePath, ttl)
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "How long the signed URL stays valid")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
