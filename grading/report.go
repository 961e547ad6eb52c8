package grading

import (
	"errors"
	"time"

	. "github.com/russross/gradesync/types"
)

// Report is the result of one run.
type Report struct {
	RunID    string
	DryRun   bool
	Mode     Mode
	Flow     Flow
	Started  time.Time
	Finished time.Time
	Courses  []CourseResult
	Outcomes []*Outcome
}

// CourseResult records how a course binding was validated.
type CourseResult struct {
	CourseID     int64
	AssignmentID int64
	Name         string
	Err          error
}

// GradeResult is one attempt's grade request and what became of it.
type GradeResult struct {
	GradeUpdate
	Posted bool
	Err    error
}

// Outcome is everything that happened to one artifact.
type Outcome struct {
	Artifact   string
	Key        ArtifactKey
	Score      *float64
	Upload     *UploadSession
	UploadErr  error
	Commented  bool
	CommentErr error
	Grades     []GradeResult

	// Err is the failure that stopped processing, if any.
	Err error

	// Skipped is set when the artifact's course failed validation.
	Skipped bool
}

// Outcome statuses.
const (
	StatusGraded    = "graded"
	StatusUploaded  = "uploaded"
	StatusPlanned   = "planned"
	StatusPartial   = "partial"
	StatusNoAttempt = "no-attempt"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// GradesPosted reports whether every grade request was posted.
func (o *Outcome) GradesPosted() bool {
	if len(o.Grades) == 0 {
		return false
	}
	for _, g := range o.Grades {
		if !g.Posted {
			return false
		}
	}
	return true
}

// Uploaded reports whether the comment file went through all phases.
func (o *Outcome) Uploaded() bool {
	return o.Upload != nil && o.Upload.Phase == PhaseAttached
}

// Status summarizes the outcome in one word.
func (o *Outcome) Status(dryRun bool) string {
	switch {
	case o.Skipped:
		return StatusSkipped
	case errors.Is(o.Err, ErrNoAttempt):
		return StatusNoAttempt
	case o.Err != nil:
		return StatusFailed
	case dryRun:
		return StatusPlanned
	}

	for _, g := range o.Grades {
		if g.Err != nil {
			return StatusPartial
		}
	}
	if o.UploadErr != nil || o.CommentErr != nil {
		return StatusPartial
	}
	if o.GradesPosted() {
		return StatusGraded
	}
	if o.Uploaded() {
		return StatusUploaded
	}
	return StatusFailed
}

// Tally counts outcomes by status.
func (r *Report) Tally() map[string]int {
	counts := make(map[string]int)
	for _, o := range r.Outcomes {
		counts[o.Status(r.DryRun)]++
	}
	return counts
}

// Failed reports whether any artifact or course ended in error.
func (r *Report) Failed() bool {
	for _, c := range r.Courses {
		if c.Err != nil {
			return true
		}
	}
	for _, o := range r.Outcomes {
		switch o.Status(r.DryRun) {
		case StatusFailed, StatusPartial, StatusSkipped:
			return true
		}
	}
	return false
}
