// Package journal keeps a sqlite record of grading runs and what happened
// to each artifact in them.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	pkgerrors "github.com/pkg/errors"
	"github.com/russross/meddler"

	"github.com/russross/gradesync/grading"
	. "github.com/russross/gradesync/types"
)

// Run is one invocation of the pipeline.
type Run struct {
	ID         int64     `json:"id" meddler:"id,pk"`
	RunID      string    `json:"runID" meddler:"run_id"`
	Directory  string    `json:"directory" meddler:"directory"`
	Assignment string    `json:"assignment" meddler:"assignment_name"`
	DryRun     bool      `json:"dryRun" meddler:"dry_run"`
	Mode       string    `json:"mode" meddler:"mode"`
	Flow       string    `json:"flow" meddler:"flow"`
	StartedAt  time.Time `json:"startedAt" meddler:"started_at,localtime"`
	FinishedAt time.Time `json:"finishedAt" meddler:"finished_at,localtimez"`
}

// Entry is the stored form of one artifact outcome.
type Entry struct {
	ID          int64        `json:"id" meddler:"id,pk"`
	RunID       string       `json:"runID" meddler:"run_id"`
	Artifact    string       `json:"artifact" meddler:"artifact"`
	CourseID    int64        `json:"courseID" meddler:"course_id,zeroisnull"`
	StudentID   int64        `json:"studentID" meddler:"student_id,zeroisnull"`
	Score       *float64     `json:"score" meddler:"score"`
	Status      string       `json:"status" meddler:"status"`
	UploadPhase string       `json:"uploadPhase" meddler:"upload_phase,zeroisnull"`
	FileID      int64        `json:"fileID" meddler:"file_id,zeroisnull"`
	Grades      []GradeEntry `json:"grades" meddler:"grades,json"`
	Error       string       `json:"error" meddler:"error,zeroisnull"`
	CreatedAt   time.Time    `json:"createdAt" meddler:"created_at,localtime"`
}

// GradeEntry is one attempt's grade as it was posted (or not).
type GradeEntry struct {
	Attempt int     `json:"attempt"`
	Score   float64 `json:"score"`
	Posted  bool    `json:"posted"`
	Error   string  `json:"error,omitempty"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY,
		run_id TEXT NOT NULL UNIQUE,
		directory TEXT NOT NULL,
		assignment_name TEXT NOT NULL,
		dry_run BOOLEAN NOT NULL,
		mode TEXT NOT NULL,
		flow TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
		artifact TEXT NOT NULL,
		course_id INTEGER,
		student_id INTEGER,
		score REAL,
		status TEXT NOT NULL,
		upload_phase TEXT,
		file_id INTEGER,
		grades TEXT NOT NULL,
		error TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS outcomes_run_id ON outcomes (run_id)`,
}

// Journal is an open run journal.
type Journal struct {
	db *sql.DB

	// Template supplies the run fields that the pipeline does not know
	// (directory, assignment name); it is copied into each new run row.
	Template Run
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	meddler.Default = meddler.SQLite

	options :=
		"?" + "mode=rwc" +
			"&" + "_busy_timeout=10000" +
			"&" + "_foreign_keys=ON" +
			"&" + "_journal_mode=WAL" +
			"&" + "_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", path+options)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "opening journal %s", path)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, pkgerrors.Wrapf(err, "creating journal schema in %s", path)
		}
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin sets up the template for runs recorded from now on.
func (j *Journal) Begin(dir, assignment string, opts grading.Options) {
	j.Template = Run{
		Directory:  dir,
		Assignment: assignment,
		DryRun:     opts.DryRun,
		Mode:       string(opts.Mode),
		Flow:       string(opts.Flow),
	}
}

// Record stores one outcome, creating the run row on first use.
func (j *Journal) Record(runID string, o *grading.Outcome) error {
	run, err := j.ensureRun(runID)
	if err != nil {
		return err
	}
	entry := NewEntry(runID, o, run.DryRun)
	if err := meddler.Insert(j.db, "outcomes", entry); err != nil {
		return pkgerrors.Wrapf(err, "recording %s", o.Artifact)
	}
	return nil
}

func (j *Journal) ensureRun(runID string) (*Run, error) {
	run := new(Run)
	err := meddler.QueryRow(j.db, run, `SELECT * FROM runs WHERE run_id = ?`, runID)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.Wrapf(err, "loading run %s", runID)
	}
	*run = j.Template
	run.ID = 0
	run.RunID = runID
	run.StartedAt = time.Now()
	if err := meddler.Insert(j.db, "runs", run); err != nil {
		return nil, pkgerrors.Wrapf(err, "creating run %s", runID)
	}
	return run, nil
}

// Finish stamps the run described by report as finished. A run that
// recorded no outcomes is still stored.
func (j *Journal) Finish(report *grading.Report) error {
	run, err := j.ensureRun(report.RunID)
	if err != nil {
		return err
	}
	run.DryRun = report.DryRun
	run.Mode = string(report.Mode)
	run.Flow = string(report.Flow)
	if !report.Started.IsZero() {
		run.StartedAt = report.Started
	}
	run.FinishedAt = report.Finished
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	if err := meddler.Save(j.db, "runs", run); err != nil {
		return pkgerrors.Wrapf(err, "finishing run %s", report.RunID)
	}
	return nil
}

// LastRun returns the most recently started run.
func (j *Journal) LastRun() (*Run, error) {
	run := new(Run)
	err := meddler.QueryRow(j.db, run, `SELECT * FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("the journal has no runs")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "loading last run")
	}
	return run, nil
}

// LoadRun returns the run with the given id.
func (j *Journal) LoadRun(runID string) (*Run, error) {
	run := new(Run)
	err := meddler.QueryRow(j.db, run, `SELECT * FROM runs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no run with id %s", runID)
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "loading run %s", runID)
	}
	return run, nil
}

// Entries returns the outcomes recorded for a run, in the order they
// were recorded.
func (j *Journal) Entries(runID string) ([]*Entry, error) {
	var entries []*Entry
	if err := meddler.QueryAll(j.db, &entries, `SELECT * FROM outcomes WHERE run_id = ? ORDER BY id`, runID); err != nil {
		return nil, pkgerrors.Wrapf(err, "loading outcomes for run %s", runID)
	}
	return entries, nil
}

// NewEntry flattens an outcome into its stored form.
func NewEntry(runID string, o *grading.Outcome, dryRun bool) *Entry {
	e := &Entry{
		RunID:     runID,
		Artifact:  o.Artifact,
		CourseID:  o.Key.Course,
		StudentID: o.Key.Student,
		Score:     o.Score,
		Status:    o.Status(dryRun),
		Grades:    []GradeEntry{},
		CreatedAt: time.Now(),
	}
	if o.Upload != nil && o.Upload.Phase != PhaseNone {
		e.UploadPhase = o.Upload.Phase.String()
		e.FileID = o.Upload.ConfirmationID
	}
	for _, g := range o.Grades {
		ge := GradeEntry{Attempt: g.Attempt, Score: g.Score, Posted: g.Posted}
		if g.Err != nil {
			ge.Error = g.Err.Error()
		}
		e.Grades = append(e.Grades, ge)
	}

	var msgs []error
	for _, err := range []error{o.Err, o.UploadErr, o.CommentErr} {
		if err != nil {
			msgs = append(msgs, err)
		}
	}
	if len(msgs) > 0 {
		e.Error = errors.Join(msgs...).Error()
	}
	return e
}
