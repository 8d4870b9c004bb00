// Package store keeps the history of runs in a sqlite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

type Run struct {
	UUID       string
	Timestamp  int64
	Repository string
	Commit     string
	InProgress bool
	Success    *bool
	// ExitCode is the threshold result of a successful run.
	ExitCode      *int
	ReportKey     *string
	FailureReason *string
}

type RunRow struct {
	Run
	ID int
}

func (r RunRow) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "uuid: %q, repository: %q, commit: %q, in_progress: %t", r.UUID, r.Repository, r.Commit, r.InProgress)
	if r.Success != nil {
		fmt.Fprintf(&sb, ", success: %t", *r.Success)
	} else {
		sb.WriteString(", success: nil")
	}
	if r.ExitCode != nil {
		fmt.Fprintf(&sb, ", exit_code: %d", *r.ExitCode)
	}
	if r.ReportKey != nil {
		fmt.Fprintf(&sb, ", report_key: %q", *r.ReportKey)
	}
	if r.FailureReason != nil {
		fmt.Fprintf(&sb, ", failure_reason: %q", *r.FailureReason)
	}
	return sb.String()
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			timestamp INTEGER NOT NULL,
			repository TEXT NOT NULL,
			commit_hash TEXT NOT NULL,
			in_progress BOOLEAN NOT NULL,
			success BOOLEAN DEFAULT NULL,
			exit_code INTEGER DEFAULT NULL,
			report_key TEXT DEFAULT NULL,
			failure_reason TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// inTx runs fn in a transaction, which is committed when fn succeeds.
func inTx(ctx context.Context, db *sql.DB, uuid string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("uuid", uuid))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// inProgress returns ErrNotFound for an unknown run and ErrAlreadyFinished for a finished one.
func inProgress(ctx context.Context, tx *sql.Tx, uuid string) error {
	var running bool
	err := tx.QueryRowContext(ctx, `SELECT in_progress FROM runs WHERE uuid=?`, uuid).Scan(&running)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	case !running:
		return ErrAlreadyFinished
	}
	return nil
}

// Start persists that run is in progress. Starting a run which is still in
// progress is a no-op, a finished one returns ErrAlreadyFinished.
func Start(ctx context.Context, db *sql.DB, run Run) error {
	return inTx(ctx, db, run.UUID, func(tx *sql.Tx) error {
		err := inProgress(ctx, tx, run.UUID)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO runs (uuid, timestamp, repository, commit_hash, in_progress) VALUES (?,?,?,?,?);`,
			run.UUID, run.Timestamp, run.Repository, run.Commit, true,
		)
		if err != nil {
			return fmt.Errorf("executing sql insert failed: %w", err)
		}
		return nil
	})
}

// Get returns the run identified by uuid or ErrNotFound.
func Get(ctx context.Context, db *sql.DB, uuid string) (RunRow, error) {
	var row RunRow
	err := inTx(ctx, db, uuid, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id, uuid, timestamp, repository, commit_hash, in_progress, success, exit_code, report_key, failure_reason
			 FROM runs WHERE uuid=?`, uuid,
		).Scan(
			&row.ID,
			&row.UUID,
			&row.Timestamp,
			&row.Repository,
			&row.Commit,
			&row.InProgress,
			&row.Success,
			&row.ExitCode,
			&row.ReportKey,
			&row.FailureReason,
		)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrNotFound
		case err != nil:
			return fmt.Errorf("executing sql query failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return RunRow{}, err
	}
	return row, nil
}

// FinishOK stores that the run has finished with exitCode and its report was
// stored under reportKey.
func FinishOK(ctx context.Context, db *sql.DB, uuid string, exitCode int, reportKey string) error {
	return inTx(ctx, db, uuid, func(tx *sql.Tx) error {
		if err := inProgress(ctx, tx, uuid); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE runs
			 SET
				in_progress = false,
				success = true,
				exit_code = ?,
				report_key = ?
			WHERE uuid = ?;
			`, exitCode, reportKey, uuid,
		)
		if err != nil {
			return fmt.Errorf("executing sql update failed: %w", err)
		}
		return nil
	})
}

// FinishErr stores that the run has failed and why.
func FinishErr(ctx context.Context, db *sql.DB, uuid, reason string) error {
	return inTx(ctx, db, uuid, func(tx *sql.Tx) error {
		if err := inProgress(ctx, tx, uuid); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE runs
			 SET
				in_progress = false,
				success = false,
				failure_reason = ?
			WHERE uuid = ?;
			`, reason, uuid,
		)
		if err != nil {
			return fmt.Errorf("executing sql update failed: %w", err)
		}
		return nil
	})
}

func Delete(ctx context.Context, db *sql.DB, uuid string) error {
	return inTx(ctx, db, uuid, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE uuid=?`, uuid)
		if err != nil {
			return fmt.Errorf("executing sql delete failed: %w", err)
		}
		ra, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("fetching affected rows failed: %w", err)
		}
		if ra != 1 {
			return ErrNotFound
		}
		return nil
	})
}

// Last returns up to limit most recent runs of repository, newest first.
func Last(ctx context.Context, db *sql.DB, repository string, limit int) ([]RunRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, uuid, timestamp, repository, commit_hash, in_progress, success, exit_code, report_key, failure_reason
		 FROM runs WHERE repository=? ORDER BY timestamp DESC, id DESC LIMIT ?`, repository, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []RunRow
	for rows.Next() {
		var row RunRow
		if err := rows.Scan(
			&row.ID,
			&row.UUID,
			&row.Timestamp,
			&row.Repository,
			&row.Commit,
			&row.InProgress,
			&row.Success,
			&row.ExitCode,
			&row.ReportKey,
			&row.FailureReason,
		); err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		ret = append(ret, row)
	}
	return ret, rows.Err()
}
