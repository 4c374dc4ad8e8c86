// Package runlog keeps a history of acquisition runs in a sqlite database.
package runlog

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	// registers the "sqlite" driver
	_ "modernc.org/sqlite"
)

// Outcome is how a run ended
type Outcome string

const (
	// Running is the outcome of a run that has not finished
	Running Outcome = "running"

	// Completed runs took every requested cycle
	Completed Outcome = "completed"

	// Aborted runs were stopped by a client
	Aborted Outcome = "aborted"

	// Failed runs ended on a detector, accumulation or save error
	Failed Outcome = "failed"
)

// Record is one run
type Record struct {
	ID        string    `json:"id"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished,omitempty"`
	Requested int       `json:"requested"`
	Completed int       `json:"completed"`
	Outcome   Outcome   `json:"outcome"`
	File      string    `json:"file,omitempty"`
	Message   string    `json:"message,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id        TEXT PRIMARY KEY,
	started   INTEGER NOT NULL,
	finished  INTEGER NOT NULL DEFAULT 0,
	requested INTEGER NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	outcome   TEXT NOT NULL,
	file      TEXT NOT NULL DEFAULT '',
	message   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started ON runs (started);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Store is a run history backed by sqlite.  It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	for _, p := range pragmas {
		if _, err = db.Exec(p); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "executing %q", p)
		}
	}
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Started records the start of a run
func (s *Store) Started(r Record) error {
	_, err := s.db.Exec(`INSERT INTO runs (id, started, requested, outcome) VALUES (?, ?, ?, ?)`,
		r.ID, r.Started.UnixNano(), r.Requested, string(Running))
	return errors.Wrapf(err, "recording start of run %s", r.ID)
}

// Finished records the end of a run
func (s *Store) Finished(r Record) error {
	res, err := s.db.Exec(`UPDATE runs SET finished = ?, completed = ?, outcome = ?, file = ?, message = ? WHERE id = ?`,
		r.Finished.UnixNano(), r.Completed, string(r.Outcome), r.File, r.Message, r.ID)
	if err != nil {
		return errors.Wrapf(err, "recording end of run %s", r.ID)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return errors.Errorf("runlog: run %s was never started", r.ID)
	}
	return err
}

// Recent returns up to n runs, newest first
func (s *Store) Recent(n int) ([]Record, error) {
	rows, err := s.db.Query(`SELECT id, started, finished, requested, completed, outcome, file, message
		FROM runs ORDER BY started DESC LIMIT ?`, n)
	if err != nil {
		return nil, errors.Wrap(err, "querying runs")
	}
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		var (
			r                 Record
			started, finished int64
			outcome           string
		)
		err = rows.Scan(&r.ID, &started, &finished, &r.Requested, &r.Completed, &outcome, &r.File, &r.Message)
		if err != nil {
			return nil, errors.Wrap(err, "scanning run")
		}
		r.Started = time.Unix(0, started)
		if finished != 0 {
			r.Finished = time.Unix(0, finished)
		}
		r.Outcome = Outcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}
