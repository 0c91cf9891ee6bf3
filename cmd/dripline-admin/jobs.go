package main

import (
	"database/sql"
	"errors"
	"flag"

	"github.com/dripline/dripline/internal/data"
	"github.com/dripline/dripline/internal/domain/model"
	"github.com/dripline/dripline/internal/service"
)

func newJobService(cmdCtx *commandContext, db *sql.DB) *service.JobService {
	repoCfg := data.RepoConfig{Logger: cmdCtx.Logger, TimeProvider: &data.RealTimeProvider{}}
	return service.MustNewJobService(service.JobServiceOptions{
		Jobs:   data.NewJobRepo(db, repoCfg),
		Tasks:  data.NewTaskRepo(db, repoCfg),
		Logger: cmdCtx.Logger,
	})
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("list-jobs", flag.ContinueOnError)
	status := fs.String("status", "", "filter by job status (pending, running, completed, failed, cancelled)")
	limit := fs.Int("limit", 50, "maximum number of jobs to return")
	offset := fs.Int("offset", 0, "number of jobs to skip")
	query := fs.String("query", "", "JMESPath expression applied to the output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withDB(cmdCtx, func(db *sql.DB) error {
		jobs, err := newJobService(cmdCtx, db).ListJobs(cmdCtx.Ctx, model.JobListOptions{
			Status: model.JobStatus(*status),
			Limit:  *limit,
			Offset: *offset,
		})
		if err != nil {
			return err
		}
		if jobs == nil {
			jobs = []*model.Job{}
		}
		return renderJSON(jobs, *query)
	})
}

func runShowJob(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("show-job", flag.ContinueOnError)
	query := fs.String("query", "", "JMESPath expression applied to the output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("show-job requires exactly one job id argument")
	}

	return withDB(cmdCtx, func(db *sql.DB) error {
		stats, err := newJobService(cmdCtx, db).GetJobStats(cmdCtx.Ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		return renderJSON(stats, *query)
	})
}

func runListTasks(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("list-tasks", flag.ContinueOnError)
	status := fs.String("status", "", "filter by task status (pending, processing, sent, confirmed, failed, retrying)")
	limit := fs.Int("limit", 100, "maximum number of tasks to return")
	offset := fs.Int("offset", 0, "number of tasks to skip")
	query := fs.String("query", "", "JMESPath expression applied to the output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("list-tasks requires exactly one job id argument")
	}

	return withDB(cmdCtx, func(db *sql.DB) error {
		tasks, err := newJobService(cmdCtx, db).ListTasks(cmdCtx.Ctx, model.TaskListOptions{
			JobID:  fs.Arg(0),
			Status: model.TaskStatus(*status),
			Limit:  *limit,
			Offset: *offset,
		})
		if err != nil {
			return err
		}
		if tasks == nil {
			tasks = []*model.Task{}
		}
		return renderJSON(tasks, *query)
	})
}
