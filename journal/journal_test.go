package journal

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/russross/gradesync/grading"
	. "github.com/russross/gradesync/types"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func floatp(f float64) *float64 { return &f }

func gradedOutcome() *grading.Outcome {
	return &grading.Outcome{
		Artifact: "/grading/Smith-5001-2002.xlsx",
		Key:      grading.ArtifactKey{Path: "/grading/Smith-5001-2002.xlsx", Name: "Smith", Student: 5001, Course: 2002},
		Score:    floatp(18),
		Upload:   &UploadSession{Phase: PhaseAttached, ConfirmationID: 9001},
		Grades: []grading.GradeResult{
			{GradeUpdate: GradeUpdate{SubmissionID: 7, UserID: 5001, Attempt: 1, Score: 0}, Posted: true},
			{GradeUpdate: GradeUpdate{SubmissionID: 7, UserID: 5001, Attempt: 2, Score: 18}, Posted: true},
		},
	}
}

func TestRecordAndReload(t *testing.T) {
	j := openTemp(t)
	j.Begin("/grading", "Project 1", grading.Options{Mode: grading.ModeFull, Flow: grading.FlowAssignment})

	failed := &grading.Outcome{
		Artifact: "/grading/Jones-5002-2002.xlsx",
		Key:      grading.ArtifactKey{Student: 5002, Course: 2002},
		Err:      NewError(ErrScoreNotFound, "Jones-5002-2002.xlsx", nil),
	}
	require.NoError(t, j.Record("run-1", gradedOutcome()))
	require.NoError(t, j.Record("run-1", failed))

	run, err := j.LoadRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "Project 1", run.Assignment)
	assert.Equal(t, "/grading", run.Directory)
	assert.Equal(t, "full", run.Mode)
	assert.True(t, run.FinishedAt.IsZero())

	entries, err := j.Entries("run-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	e := entries[0]
	assert.Equal(t, grading.StatusGraded, e.Status)
	assert.Equal(t, int64(2002), e.CourseID)
	assert.Equal(t, int64(5001), e.StudentID)
	require.NotNil(t, e.Score)
	assert.Equal(t, 18.0, *e.Score)
	assert.Equal(t, "attached", e.UploadPhase)
	assert.Equal(t, int64(9001), e.FileID)
	assert.Equal(t, []GradeEntry{{Attempt: 1, Score: 0, Posted: true}, {Attempt: 2, Score: 18, Posted: true}}, e.Grades)
	assert.Empty(t, e.Error)

	e = entries[1]
	assert.Equal(t, grading.StatusFailed, e.Status)
	assert.Nil(t, e.Score)
	assert.Empty(t, e.Grades)
	assert.Contains(t, e.Error, "Jones-5002-2002.xlsx")
}

func TestFinishAndLastRun(t *testing.T) {
	j := openTemp(t)
	_, err := j.LastRun()
	assert.Error(t, err)

	start := time.Now().Add(-time.Hour)
	require.NoError(t, j.Finish(&grading.Report{RunID: "old", Started: start, Finished: start.Add(time.Minute)}))

	j.Begin("/grading", "Project 2", grading.Options{DryRun: true})
	require.NoError(t, j.Record("new", gradedOutcome()))
	require.NoError(t, j.Finish(&grading.Report{RunID: "new", DryRun: true, Mode: grading.ModeFull, Flow: grading.FlowAssignment, Started: time.Now()}))

	run, err := j.LastRun()
	require.NoError(t, err)
	assert.Equal(t, "new", run.RunID)
	assert.True(t, run.DryRun)
	assert.False(t, run.FinishedAt.IsZero())

	entries, err := j.Entries("new")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, grading.StatusPlanned, entries[0].Status)

	_, err = j.LoadRun("missing")
	assert.Error(t, err)
}

func TestNewEntryJoinsErrors(t *testing.T) {
	o := gradedOutcome()
	o.Upload.Phase = PhaseUploaded
	o.UploadErr = NewError(ErrUploadConfirmation, "Smith-5001-2002.xlsx", fmt.Errorf("status 500"))
	o.Grades[1].Posted = false
	o.Grades[1].Err = NewError(ErrGradePost, "attempt 2", nil)

	e := NewEntry("r", o, false)
	assert.Equal(t, grading.StatusPartial, e.Status)
	assert.Equal(t, "uploaded", e.UploadPhase)
	assert.Contains(t, e.Error, "status 500")
	assert.NotEmpty(t, e.Grades[1].Error)
	assert.Empty(t, e.Grades[0].Error)
}

func TestMarkdownAndHTML(t *testing.T) {
	run := &Run{
		RunID:      "abc",
		Directory:  "/grading",
		Assignment: "Project 1",
		DryRun:     true,
		Mode:       "full",
		Flow:       "assignment",
		StartedAt:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local),
	}
	entries := []*Entry{
		NewEntry("abc", gradedOutcome(), true),
		{Artifact: "/grading/x|y.xlsx", Status: grading.StatusFailed, Error: "bad\nname"},
	}

	md := Markdown(run, entries)
	assert.Contains(t, md, "# Run abc")
	assert.Contains(t, md, "dry run: no upload actions were performed")
	assert.Contains(t, md, "interrupted")
	assert.Contains(t, md, "- planned: 1")
	assert.Contains(t, md, "- failed: 1")
	assert.Contains(t, md, "| Smith-5001-2002.xlsx | 2002 | 5001 | 18.0 | planned | attached | 1:0.0 ok, 2:18.0 ok | - |")
	assert.Contains(t, md, `x\|y.xlsx`)
	assert.False(t, strings.Contains(md, "bad\nname"))

	html := HTML(run, entries)
	assert.Contains(t, html, "<h1>Run abc</h1>")
	assert.Contains(t, html, "<table>")

	empty := Markdown(run, nil)
	assert.Contains(t, empty, "No artifacts were processed.")
	assert.NotContains(t, empty, "## Artifacts")
}
