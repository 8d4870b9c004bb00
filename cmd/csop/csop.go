package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/CZERTAINLY/csop/internal/bom"
	"github.com/CZERTAINLY/csop/internal/ci"
	"github.com/CZERTAINLY/csop/internal/log"
	"github.com/CZERTAINLY/csop/internal/model"
	"github.com/CZERTAINLY/csop/internal/parser"
	"github.com/CZERTAINLY/csop/internal/pipeline"
	"github.com/CZERTAINLY/csop/internal/policy"
	"github.com/CZERTAINLY/csop/internal/report"
	"github.com/CZERTAINLY/csop/internal/store"
	"github.com/CZERTAINLY/csop/internal/tracker"
	"github.com/CZERTAINLY/csop/internal/upload"
	"github.com/CZERTAINLY/csop/internal/walk"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// CSOP executes one run: parse the input directory, write the artifacts and
// publish them.
type CSOP struct {
	cfg       model.Config
	env       ci.Env
	threshold model.Threshold
	input     string
	output    string
	upload    bool
	now       func() time.Time
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	threshold, err := config.Threshold()
	if flagFailThreshold != "" {
		threshold, err = model.ParseThreshold(flagFailThreshold)
	}
	if err != nil {
		return exitWith(exitConfig, err)
	}

	env, err := ci.Read(flagInput)
	if err != nil {
		return exitWith(exitConfig, err)
	}

	c := CSOP{
		cfg:       config,
		env:       env,
		threshold: threshold,
		input:     flagInput,
		output:    flagOutput,
		upload:    flagUpload || config.UploadEnabled(),
		now:       time.Now,
	}
	code, err := c.Do(ctx)
	if err != nil {
		return err
	}
	if code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// Do returns the highest severity ordinal of failing findings. Operational
// failures are returned as *exitError.
func (c CSOP) Do(ctx context.Context) (int, error) {
	runID := uuid.New()
	started := c.now()
	ts := started.Unix()
	ctx = log.ContextAttrs(ctx, slog.Group("csop",
		slog.String("run_id", runID.String()),
		slog.Int("pid", os.Getpid()),
	))

	md := c.env.Metadata
	md.Jira = c.cfg.JiraEnabled()

	var s3 *upload.S3
	if c.upload {
		var err error
		s3, err = c.s3(ctx)
		if err != nil {
			return 0, exitWith(exitConfig, err)
		}
	}

	info, err := os.Stat(c.input)
	if err != nil {
		return 0, exitWith(exitIO, fmt.Errorf("input directory: %w", err))
	}
	if !info.IsDir() {
		return 0, exitWith(exitIO, fmt.Errorf("input %s is not a directory", c.input))
	}

	db := c.history(ctx, runID.String(), ts, md)
	if db != nil {
		defer func() {
			_ = db.Close()
		}()
	}
	fail := func(code int, err error) (int, error) {
		if db != nil {
			if herr := store.FinishErr(ctx, db, runID.String(), err.Error()); herr != nil {
				slog.WarnContext(ctx, "recording failed run", "error", herr)
			}
		}
		return 0, exitWith(code, err)
	}

	p := pipeline.New(pipeline.Config{
		Env: parser.Env{
			Metadata:           md,
			GosecRules:         parser.DefaultGosecRules(),
			MergeSecretsByFile: c.cfg.Gitleaks != nil && c.cfg.Gitleaks.MergeByFile,
		},
		Policy:  c.policy(),
		Tracker: c.tracker(ctx),
	})
	res, err := p.Run(ctx, walk.Dir(ctx, c.input, walk.Pattern))
	if err != nil {
		return fail(exitSoftware, err)
	}

	emitter, err := report.NewEmitter(c.output)
	if err != nil {
		return fail(exitSoftware, err)
	}
	b := bom.NewBuilder().
		WithSerial(runID).
		WithTimestamp(started).
		AppendProperties(
			cdx.Property{Name: "csop:repository", Value: md.Repository},
			cdx.Property{Name: "csop:commit", Value: md.Commit},
			cdx.Property{Name: "csop:fail_threshold", Value: string(c.threshold)},
			cdx.Property{Name: "csop:exit_code", Value: strconv.Itoa(res.ExitCode)},
		).
		AppendFindings(res.Findings...)
	paths, err := emitter.Emit(report.Report{
		Timestamp: ts,
		Env:       md,
		Findings:  res.Findings,
		Metadata:  report.NewMetadata(runID.String(), ts, c.threshold, md, res),
		BOM:       b,
	})
	if err != nil {
		code := exitSoftware
		if errors.Is(err, report.ErrWrite) {
			code = exitIO
		}
		return fail(code, err)
	}
	slog.InfoContext(ctx, "report written",
		"csv", paths.CSV,
		"reported", res.Counts.Reported,
		"failing", res.Counts.Failing,
		"exit_code", res.ExitCode,
	)

	// publishing is best effort, the report on disk is the result of the run
	if s3 != nil {
		keyFn := func(path string) string { return report.ObjectKey(md, ts, path) }
		files := append(append([]string{}, res.Inputs...), paths.All()...)
		if err := upload.Files(ctx, s3, keyFn, files...); err != nil {
			slog.ErrorContext(ctx, "upload failed", "error", err)
		}
	}
	c.publishBOM(ctx, md, paths.BOM)

	if db != nil {
		if err := store.FinishOK(ctx, db, runID.String(), res.ExitCode, report.ObjectKey(md, ts, paths.CSV)); err != nil {
			slog.WarnContext(ctx, "recording run", "error", err)
		}
	}
	return res.ExitCode, nil
}

func (c CSOP) policy() policy.Config {
	cfg := policy.Config{Threshold: c.threshold}
	if c.cfg.Allowlist != nil {
		cfg.AllowIDs = c.cfg.Allowlist.IDs
		cfg.AllowPaths = c.cfg.Allowlist.Paths
	}
	if c.cfg.Jira != nil {
		cfg.AcceptedStatuses = c.cfg.Jira.AcceptedStatuses
	}
	return cfg
}

// tracker returns nil when reconciliation is disabled or can't be set up.
func (c CSOP) tracker(ctx context.Context) pipeline.Tracker {
	if !c.cfg.JiraEnabled() {
		return nil
	}
	j, err := tracker.NewJira(tracker.Config{
		ServerURL: c.env.Jira.Server,
		Username:  c.env.Jira.Username,
		Token:     c.env.Jira.Token,
		Project:   c.cfg.Jira.Project,
		HashField: c.cfg.Jira.HashField,
	})
	if err != nil {
		slog.ErrorContext(ctx, "tracker misconfigured, findings are not reconciled", "error", err)
		return nil
	}
	return j
}

func (c CSOP) s3(ctx context.Context) (*upload.S3, error) {
	cfg := upload.S3Config{
		Bucket:          c.env.AWS.Bucket,
		AccessKeyID:     c.env.AWS.AccessKeyID,
		SecretAccessKey: c.env.AWS.SecretAccessKey,
	}
	if u := c.cfg.Upload; u != nil {
		if u.Bucket != nil && *u.Bucket != "" {
			cfg.Bucket = *u.Bucket
		}
		if u.Region != nil {
			cfg.Region = *u.Region
		}
		if u.Endpoint != nil {
			cfg.Endpoint = *u.Endpoint
		}
	}
	if cfg.Bucket == "" {
		return nil, errors.New("upload enabled: set upload.bucket or PARSER_AWS_BUCKET_NAME")
	}
	return upload.NewS3(ctx, cfg)
}

// history returns nil when run history is disabled or unavailable.
func (c CSOP) history(ctx context.Context, runID string, ts int64, md model.Metadata) *sql.DB {
	if c.cfg.History == nil {
		return nil
	}
	db, err := store.InitDB(ctx, c.cfg.History.Path)
	if err != nil {
		slog.WarnContext(ctx, "run history unavailable", "path", c.cfg.History.Path, "error", err)
		return nil
	}
	err = store.Start(ctx, db, store.Run{
		UUID:       runID,
		Timestamp:  ts,
		Repository: md.Repository,
		Commit:     md.Commit,
	})
	if err != nil {
		slog.WarnContext(ctx, "recording run start", "error", err)
		_ = db.Close()
		return nil
	}
	return db
}

func (c CSOP) publishBOM(ctx context.Context, md model.Metadata, path string) {
	if c.cfg.BOMRepository == nil {
		return
	}
	repo, err := upload.NewBOMRepository(c.cfg.BOMRepository.URL, md)
	if err != nil {
		slog.ErrorContext(ctx, "bom repository misconfigured", "error", err)
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.ErrorContext(ctx, "reading bom", "error", err)
		return
	}
	var up model.Uploader = repo
	if err := up.Upload(ctx, raw); err != nil {
		slog.ErrorContext(ctx, "bom upload failed", "error", err)
	}
}

// doHistory lists the recent runs of the repository in the working directory,
// shows a single run given its id or deletes it with --delete.
func doHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if config.History == nil {
		return exitWith(exitConfig, errors.New("history.path is not configured"))
	}
	if flagHistoryDelete && len(args) == 0 {
		return exitWith(exitConfig, errors.New("--delete needs a run id"))
	}
	db, err := store.InitDB(ctx, config.History.Path)
	if err != nil {
		return exitWith(exitIO, err)
	}
	defer func() {
		_ = db.Close()
	}()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		runID := args[0]
		if flagHistoryDelete {
			if err := store.Delete(ctx, db, runID); err != nil {
				return exitWith(historyCode(err), fmt.Errorf("deleting run %s: %w", runID, err))
			}
			_, _ = fmt.Fprintf(out, "deleted %s\n", runID)
			return nil
		}
		row, err := store.Get(ctx, db, runID)
		if err != nil {
			return exitWith(historyCode(err), fmt.Errorf("run %s: %w", runID, err))
		}
		printRun(out, row)
		return nil
	}

	env, err := ci.Read(".")
	if err != nil {
		return exitWith(exitConfig, err)
	}
	rows, err := store.Last(ctx, db, env.Metadata.Repository, flagHistoryLimit)
	if err != nil {
		return exitWith(exitIO, err)
	}
	for _, row := range rows {
		printRun(out, row)
	}
	return nil
}

func historyCode(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return exitSoftware
	}
	return exitIO
}

func printRun(w io.Writer, row store.RunRow) {
	_, _ = fmt.Fprintf(w, "%s %s\n", time.Unix(row.Timestamp, 0).UTC().Format(time.RFC3339), row)
}
