// Package devseed populates a development database with sample distribution
// jobs so the API and admin CLI have data to work against. It is wired to the
// admin db-seed command and never runs in production builds of the service.
package devseed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dripline/dripline/internal/data"
	"github.com/dripline/dripline/internal/domain/model"
	"github.com/dripline/dripline/internal/service"
)

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB   *sql.DB
	jobs *service.JobService
}

// NewServices constructs the services required for seeding using the provided DB.
func NewServices(db *sql.DB) Services {
	repoCfg := data.RepoConfig{TimeProvider: &data.RealTimeProvider{}}
	jobService := service.MustNewJobService(service.JobServiceOptions{
		Jobs:  data.NewJobRepo(db, repoCfg),
		Tasks: data.NewTaskRepo(db, repoCfg),
	})
	return Services{DB: db, jobs: jobService}
}

// Run executes the development seeding workflow against the provided DB.
// Seeding is idempotent per mint: a job whose mint already exists is skipped,
// so repeated db-seed runs do not pile up duplicate jobs.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	existing, err := existingMints(ctx, svcs.jobs)
	if err != nil {
		return fmt.Errorf("list existing jobs: %w", err)
	}

	failures := 0
	for _, req := range defaultJobSeeds() {
		if existing[req.Mint] {
			if logger != nil {
				logger.InfoContext(ctx, "seed job already exists", "mint", req.Mint)
			}
			continue
		}

		job, createErr := svcs.jobs.CreateJob(ctx, req)
		if createErr != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to create seed job", "mint", req.Mint, "error", createErr)
			}
			failures++
			continue
		}
		if logger != nil {
			logger.InfoContext(ctx, "created seed job",
				"job_id", job.ID,
				"mint", job.Mint,
				"recipients", job.TotalRecipients,
			)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func existingMints(ctx context.Context, jobs *service.JobService) (map[string]bool, error) {
	const pageSize = 100
	offset := 0
	mints := map[string]bool{}
	for {
		page, err := jobs.ListJobs(ctx, model.JobListOptions{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, job := range page {
			mints[job.Mint] = true
		}
		offset += len(page)
		if len(page) < pageSize {
			break
		}
	}
	return mints, nil
}

func defaultJobSeeds() []*model.CreateJobRequest {
	return []*model.CreateJobRequest{
		{
			Mint:          "So11111111111111111111111111111111111111112",
			Decimals:      9,
			SourceAccount: "DevSrc1111111111111111111111111111111111111",
			Authority:     "DevAuth111111111111111111111111111111111111",
			DeliveryMode:  model.DeliveryModeCostSaver,
			BatchSize:     10,
			MaxRetries:    3,
			Recipients: []model.RecipientRequest{
				{Address: "DevRecvA11111111111111111111111111111111111", Amount: "1000000000"},
				{Address: "DevRecvB11111111111111111111111111111111111", Amount: "2500000000"},
				{Address: "DevRecvC11111111111111111111111111111111111", Amount: "500000000"},
				{Address: "DevRecvD11111111111111111111111111111111111", Amount: "750000000"},
			},
		},
		{
			Mint:          "DevMintUSDx11111111111111111111111111111111",
			Decimals:      6,
			SourceAccount: "DevSrc2111111111111111111111111111111111111",
			Authority:     "DevAuth111111111111111111111111111111111111",
			DeliveryMode:  model.DeliveryModeHighAssurance,
			BatchSize:     25,
			MaxRetries:    5,
			Recipients: []model.RecipientRequest{
				{Address: "DevRecvE11111111111111111111111111111111111", Amount: "100000000"},
				{Address: "DevRecvF11111111111111111111111111111111111", Amount: "200000000"},
			},
		},
	}
}
