package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/comptoir-erp/comptoir/cmd/comptoir/cli"
	"github.com/comptoir-erp/comptoir/internal/app"
	"github.com/comptoir-erp/comptoir/internal/ledger"
	"github.com/comptoir-erp/comptoir/internal/lettering"
	"github.com/comptoir-erp/comptoir/internal/observability"
	"github.com/comptoir-erp/comptoir/internal/platform/db"
	"github.com/comptoir-erp/comptoir/internal/reconcile"
	"github.com/comptoir-erp/comptoir/jobs"
)

const usage = `usage: comptoir <command> [flags]

commands:
  recompute-lettering [-ref LTR-NNNNNN]   run the lettering allocator, whole book or one group
  audit -period <uuid>                    audit a payroll period against its journal entry
  enqueue-recompute [-ref LTR-NNNNNN]     queue the recompute as a background job
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fatal("load config", err)
	}
	logger := app.NewLogger(cfg)

	switch os.Args[1] {
	case "recompute-lettering":
		err = runRecompute(ctx, cfg, logger, os.Args[2:])
	case "audit":
		err = runAudit(ctx, cfg, logger, os.Args[2:])
	case "enqueue-recompute":
		err = runEnqueueRecompute(ctx, cfg, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fatal(os.Args[1], err)
	}
}

func fatal(stage string, err error) {
	fmt.Fprintf(os.Stderr, "comptoir: %s: %v\n", stage, err)
	os.Exit(1)
}

func runRecompute(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("recompute-lettering", flag.ExitOnError)
	ref := fs.String("ref", "", "recompute only this letter reference")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := lettering.NewService(ledger.NewRepository(pool), observability.NewMetrics(), logger)
	if *ref != "" {
		updated, err := svc.RecomputeGroup(ctx, *ref)
		if err != nil {
			return err
		}
		fmt.Printf("group %s: %d line(s) updated\n", *ref, updated)
		return nil
	}
	summary, err := svc.RecomputeAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d group(s) recomputed, %d line(s) updated\n", summary.Groups, summary.UpdatedLines)
	return nil
}

func runAudit(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	period := fs.String("period", "", "payroll period id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	periodID, err := uuid.Parse(*period)
	if err != nil {
		return fmt.Errorf("invalid -period: %w", err)
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := reconcile.NewService(reconcile.NewRepository(pool), ledger.NewRepository(pool), observability.NewMetrics(), logger)
	report, err := svc.Audit(ctx, periodID)
	if err != nil {
		return err
	}
	fmt.Print(cli.FormatAuditReport(report))
	if report.MismatchCount > 0 || !report.Balanced {
		os.Exit(1)
	}
	return nil
}

func runEnqueueRecompute(ctx context.Context, cfg *app.Config, args []string) error {
	fs := flag.NewFlagSet("enqueue-recompute", flag.ExitOnError)
	ref := fs.String("ref", "", "recompute only this letter reference")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := jobs.NewClient(asynqRedisOpt(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	info, err := client.EnqueueLetteringRecompute(ctx, *ref)
	if err != nil {
		return err
	}
	fmt.Printf("enqueued %s id=%s queue=%s\n", jobs.TaskLetteringRecompute, info.ID, info.Queue)
	return nil
}

func asynqRedisOpt(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr}
}
