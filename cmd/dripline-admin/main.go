package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/dripline/dripline/config"
	"github.com/dripline/dripline/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	logger := bootstrap.InitLogger(cfg.IsDev)

	if len(os.Args) < 2 {
		if usageErr := printUsage(); usageErr != nil {
			logger.Error("print usage failed", "error", usageErr)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if writeErr := writef(os.Stderr, "unknown command %q\n\n", cmdName); writeErr != nil {
			logger.Error("print unknown command message failed", "error", writeErr)
		}
		if usageErr := printUsage(); usageErr != nil {
			logger.Error("print usage failed", "error", usageErr)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrate,
		},
		"db-seed": {
			name:        "db-seed",
			description: "Run database migrations and seed development data",
			run:         runDBSeed,
		},
		"list-jobs": {
			name:        "list-jobs",
			description: "List distribution jobs as JSON",
			run:         runListJobs,
		},
		"show-job": {
			name:        "show-job",
			description: "Show one job with live task status aggregation",
			run:         runShowJob,
		},
		"list-tasks": {
			name:        "list-tasks",
			description: "List a job's recipient tasks as JSON",
			run:         runListTasks,
		},
		"requeue-stuck": {
			name:        "requeue-stuck",
			description: "Requeue tasks stuck in processing after an engine crash",
			run:         runRequeueStuck,
		},
		"purge-jobs": {
			name:        "purge-jobs",
			description: "Delete terminal jobs older than the retention age",
			run:         runPurgeJobs,
		},
		"clear-run-lock": {
			name:        "clear-run-lock",
			description: "Release a job's run lock left behind by a dead engine instance",
			run:         runClearRunLock,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stderr, "usage: dripline-admin <command> [flags]\n\ncommands:\n"); err != nil {
		return err
	}

	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := writef(os.Stderr, "  %-16s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

// renderJSON prints the value as indented JSON, optionally projected through
// a JMESPath expression. The value round-trips through encoding/json first so
// queries see JSON field names, not Go ones.
func renderJSON(v any, query string) error {
	if query != "" {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal for query: %w", err)
		}
		var generic any
		if err = json.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("unmarshal for query: %w", err)
		}
		v, err = jmespath.Search(query, generic)
		if err != nil {
			return fmt.Errorf("evaluate query %q: %w", query, err)
		}
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	return writef(os.Stdout, "%s\n", out)
}
