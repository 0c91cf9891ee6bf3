package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/dripline/dripline/internal/bootstrap"
	"github.com/dripline/dripline/internal/core"
	"github.com/dripline/dripline/internal/data"
	"github.com/dripline/dripline/internal/devseed"
)

func runMigrate(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "overall migration timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withDB(cmdCtx, func(db *sql.DB) error {
		ctx, cancel := context.WithTimeout(cmdCtx.Ctx, *timeout)
		defer cancel()
		return bootstrap.RunMigrations(ctx, db, cmdCtx.Logger)
	})
}

func runDBSeed(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("db-seed", flag.ContinueOnError)
	timeout := fs.Duration("timeout", defaultMigrationTimeout, "overall migrate-and-seed timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withDB(cmdCtx, func(db *sql.DB) error {
		ctx, cancel := context.WithTimeout(cmdCtx.Ctx, *timeout)
		defer cancel()
		if err := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); err != nil {
			return err
		}
		return devseed.Run(ctx, devseed.NewServices(db), cmdCtx.Logger)
	})
}

func runRequeueStuck(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("requeue-stuck", flag.ContinueOnError)
	age := fs.Duration("age", 10*time.Minute, "how long a task may sit in processing before requeue")
	batch := fs.Int("batch", 500, "rows per update statement")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withDB(cmdCtx, func(db *sql.DB) error {
		repo := data.NewTaskRepo(db, data.RepoConfig{Logger: cmdCtx.Logger, TimeProvider: &data.RealTimeProvider{}})

		var total int64
		for {
			n, err := repo.RequeueStaleProcessing(cmdCtx.Ctx, *age, *batch)
			if err != nil {
				return err
			}
			total += n
			if n == 0 {
				break
			}
		}

		return writef(os.Stdout, "requeued %d stuck tasks\n", total)
	})
}

func runPurgeJobs(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("purge-jobs", flag.ContinueOnError)
	age := fs.Duration("age", 720*time.Hour, "minimum age of terminal jobs to delete")
	batch := fs.Int("batch", 500, "rows per delete statement")
	dryRun := fs.Bool("dry-run", false, "report without deleting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dryRun {
		return writef(os.Stdout, "dry run: would delete terminal jobs older than %s\n", *age)
	}

	return withDB(cmdCtx, func(db *sql.DB) error {
		repo := data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger, TimeProvider: &data.RealTimeProvider{}})

		var total int64
		for {
			n, err := repo.DeleteOldTerminal(cmdCtx.Ctx, core.DeleteOldJobsParams{
				MaxAge:    *age,
				BatchSize: *batch,
			})
			if err != nil {
				return err
			}
			total += n
			if n == 0 {
				break
			}
		}

		return writef(os.Stdout, "deleted %d terminal jobs\n", total)
	})
}

// runClearRunLock releases the Redis run lock for a job. Only for recovery
// after an engine instance died without releasing it; clearing the lock of a
// live run allows a second concurrent execution.
func runClearRunLock(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("clear-run-lock", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("clear-run-lock requires exactly one job id argument")
	}
	jobID := fs.Arg(0)

	client, err := connectRedis(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			cmdCtx.Logger.Error("close redis failed", "error", closeErr)
		}
	}()

	repo := data.NewRedisRunStateRepo(client)
	if err := repo.ReleaseRunLock(cmdCtx.Ctx, jobID); err != nil {
		return err
	}
	if err := repo.ClearCancel(cmdCtx.Ctx, jobID); err != nil {
		return err
	}

	return writef(os.Stdout, "run lock cleared for job %s\n", jobID)
}
