// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package history stores the outcome of finished archive jobs
// in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect
	"github.com/doug-martin/goqu/v9/exp"
	_ "modernc.org/sqlite" // driver

	"codeberg.org/readeck/savecomplete/pkg/archiver"
)

// TableName is the database table.
const TableName = "job"

// ErrNotFound is returned when an entry was not found.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS job (
	id      integer  PRIMARY KEY AUTOINCREMENT,
	uid     text     UNIQUE NOT NULL,
	created datetime NOT NULL,
	url     text     NOT NULL,
	file    text     NOT NULL,
	state   text     NOT NULL,
	status  text     NOT NULL,
	errors  json     NOT NULL DEFAULT '[]',
	timers  json     NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS job_created_idx ON job(created);
`

// Entry is a finished job record.
type Entry struct {
	ID      int       `db:"id"      json:"id" goqu:"skipinsert,skipupdate"`
	UID     string    `db:"uid"     json:"uid"`
	Created time.Time `db:"created" json:"created"`
	URL     string    `db:"url"     json:"url"`
	File    string    `db:"file"    json:"file"`
	State   string    `db:"state"   json:"state"`
	Status  string    `db:"status"  json:"status"`
	Errors  Strings   `db:"errors"  json:"errors"`
	Timers  Timers    `db:"timers"  json:"timers"`

	// ErrorCount is computed by the database when reading entries.
	ErrorCount int `db:"error_count" json:"-" goqu:"skipinsert,skipupdate"`
}

// NewEntry returns an [Entry] for a job that just ended.
func NewEntry(job *archiver.Job, status archiver.Status, report *archiver.Report) *Entry {
	return &Entry{
		UID:     job.ID(),
		Created: time.Now().UTC(),
		URL:     job.Document().URL.String(),
		File:    job.File(),
		State:   job.State().String(),
		Status:  string(status),
		Errors:  Strings(report.Errors),
		Timers:  Timers(report.Timers),
	}
}

// Strings is a list of strings stored as a JSON array.
type Strings []string

// Value implements [driver.Valuer].
func (s Strings) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	v, err := json.Marshal(s)
	return string(v), err
}

// Scan implements [sql.Scanner].
func (s *Strings) Scan(value any) error {
	return scanJSON(value, s)
}

// Timers are the job phase spans stored as a JSON object.
type Timers archiver.Timers

// Value implements [driver.Valuer].
func (t Timers) Value() (driver.Value, error) {
	v, err := json.Marshal(archiver.Timers(t))
	return string(v), err
}

// Scan implements [sql.Scanner].
func (t *Timers) Scan(value any) error {
	return scanJSON(value, (*archiver.Timers)(t))
}

func scanJSON(value any, dest any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	}
	return fmt.Errorf("cannot scan %T into %T", value, dest)
}

// Store is the job history database.
type Store struct {
	sqlDB *sql.DB
	db    *goqu.Database
}

// Open opens, and creates when needed, the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time.
	sqlDB.SetMaxOpenConns(1)

	if _, err = sqlDB.Exec(schema); err != nil {
		sqlDB.Close() //nolint:errcheck
		return nil, err
	}

	return &Store{sqlDB: sqlDB, db: goqu.New("sqlite3", sqlDB)}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Add inserts a new entry.
func (s *Store) Add(ctx context.Context, e *Entry) error {
	if e.Created.IsZero() {
		e.Created = time.Now().UTC()
	}

	res, err := s.db.Insert(TableName).
		Rows(e).
		Prepared(true).
		Executor().ExecContext(ctx)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = int(id)
	e.ErrorCount = len(e.Errors)
	return nil
}

// Query returns a prepared [goqu.SelectDataset] that can be extended later.
func (s *Store) Query() *goqu.SelectDataset {
	return s.db.From(goqu.T(TableName)).
		Select(
			"id", "uid", "created", "url", "file", "state", "status", "errors", "timers",
			jsonArrayLength(goqu.C("errors")).As("error_count"),
		).
		Prepared(true)
}

// Get returns the entry with the given UID.
func (s *Store) Get(ctx context.Context, uid string) (*Entry, error) {
	var e Entry
	found, err := s.Query().Where(goqu.C("uid").Eq(uid)).ScanStructContext(ctx, &e)

	switch {
	case err != nil:
		return nil, err
	case !found:
		return nil, ErrNotFound
	}

	return &e, nil
}

// List returns an iterator over the last entries, most recent first.
// A limit lower than 1 returns every entry.
func (s *Store) List(ctx context.Context, limit int) iter.Seq2[*Entry, error] {
	ds := s.Query().Order(goqu.C("id").Desc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	return scan[Entry](ctx, ds)
}

// Prune removes the entries created before t and returns their number.
func (s *Store) Prune(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.Delete(TableName).
		Where(goqu.C("created").Lt(t.UTC())).
		Prepared(true).
		Executor().ExecContext(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// scan performs a query and yields every row scanned into a new T.
func scan[T any](ctx context.Context, ds *goqu.SelectDataset) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		s, err := ds.Executor().ScannerContext(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		defer s.Close() //nolint:errcheck

		for s.Next() {
			r := new(T)
			if err = s.ScanStruct(r); err != nil {
				yield(nil, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err = s.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// jsonArrayLength returns the length of a JSON array column, or 0
// when the column is not valid JSON.
func jsonArrayLength(identifier exp.IdentifierExpression) exp.SQLFunctionExpression {
	return goqu.Func(
		"json_array_length",
		goqu.Case().
			When(goqu.Func("json_valid", identifier), identifier).
			Else(goqu.V("[]")),
	)
}
