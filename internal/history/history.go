// Package history stores orchestrated runs in a sqlite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CZERTAINLY/Herald/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

type Run struct {
	UUID       string
	Profile    string
	InProgress bool
	State      *model.RunState
	Code       *int
	Success    int
	Fail       int
	Started    time.Time
	Stopped    *time.Time
}

type RunRow struct {
	Run
	ID int
}

func (r RunRow) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "uuid: %q, profile: %q, in_progress: %t", r.UUID, r.Profile, r.InProgress)
	if r.State != nil {
		fmt.Fprintf(&sb, ", state: %s", *r.State)
	} else {
		sb.WriteString(", state: nil")
	}
	if r.Code != nil {
		fmt.Fprintf(&sb, ", code: %d", *r.Code)
	} else {
		sb.WriteString(", code: nil")
	}
	fmt.Fprintf(&sb, ", success: %d, fail: %d", r.Success, r.Fail)
	return sb.String()
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			profile TEXT NOT NULL,
			in_progress BOOLEAN NOT NULL,
			state TEXT DEFAULT NULL,
			code INTEGER DEFAULT NULL,
			success INTEGER NOT NULL DEFAULT 0,
			fail INTEGER NOT NULL DEFAULT 0,
			started INTEGER NOT NULL,
			stopped INTEGER DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func rollback(ctx context.Context, tx *sql.Tx, uuid string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("uuid", uuid), slog.Any("error", err))
	}
}

// Start persists that a run identified by 'uuid' is in progress. If the
// run is still in progress, no error is returned, if it has already
// finished ErrAlreadyFinished is returned.
func Start(ctx context.Context, db *sql.DB, uuid, profile string, started time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM runs WHERE uuid=?`, uuid,
	).Scan(&inProgress)
	switch {
	case err == nil && inProgress:
		return nil
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (uuid, profile, in_progress, started) VALUES (?,?,?,?);`,
		uuid, profile, true, started.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Finish stores the terminal state of a run. ErrNotFound is returned for
// a run which was not started, ErrAlreadyFinished when it was finished
// before.
func Finish(ctx context.Context, db *sql.DB, report model.RunReport) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, report.ID)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM runs WHERE uuid=?`, report.ID,
	).Scan(&inProgress)
	switch {
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs
		 SET
			in_progress = false,
			state = ?,
			code = ?,
			success = ?,
			fail = ?,
			stopped = ?
		WHERE uuid = ?;
		`, string(report.State), report.Code, report.Success, report.Fail, report.Stopped.UnixNano(), report.ID,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

const columns = `id, uuid, profile, in_progress, state, code, success, fail, started, stopped`

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (RunRow, error) {
	var (
		row     RunRow
		state   sql.NullString
		code    sql.NullInt64
		started int64
		stopped sql.NullInt64
	)
	err := s.Scan(
		&row.ID,
		&row.UUID,
		&row.Profile,
		&row.InProgress,
		&state,
		&code,
		&row.Success,
		&row.Fail,
		&started,
		&stopped,
	)
	if err != nil {
		return RunRow{}, err
	}
	if state.Valid {
		s := model.RunState(state.String)
		row.State = &s
	}
	if code.Valid {
		c := int(code.Int64)
		row.Code = &c
	}
	row.Started = time.Unix(0, started).UTC()
	if stopped.Valid {
		t := time.Unix(0, stopped.Int64).UTC()
		row.Stopped = &t
	}
	return row, nil
}

// Get returns a run identified by 'uuid', ErrNotFound when it does not
// exist.
func Get(ctx context.Context, db *sql.DB, uuid string) (RunRow, error) {
	row, err := scanRow(db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM runs WHERE uuid=?`, uuid,
	))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return RunRow{}, ErrNotFound
	case err != nil:
		return RunRow{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return row, nil
}

// List returns at most limit most recent runs, newest first. A non
// positive limit returns all of them.
func List(ctx context.Context, db *sql.DB, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+columns+` FROM runs ORDER BY started DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []RunRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		ret = append(ret, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows failed: %w", err)
	}
	return ret, nil
}

func Delete(ctx context.Context, db *sql.DB, uuid string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	result, err := tx.ExecContext(ctx,
		`DELETE FROM runs WHERE uuid=?`, uuid,
	)
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

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}
