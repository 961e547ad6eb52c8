package grading

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Sirupsen/logrus"
	"github.com/google/uuid"

	"github.com/russross/gradesync/config"
	"github.com/russross/gradesync/lms"
	. "github.com/russross/gradesync/types"
)

// Mode selects which halves of the job run.
type Mode string

const (
	ModeFull     Mode = "full"
	ModeComments Mode = "comments"
	ModeGrades   Mode = "grades"
)

// Flow selects how grades are posted.
type Flow string

const (
	FlowAssignment Flow = "assignment"
	FlowQuiz       Flow = "quiz"
)

// Options are fixed for the length of a run.
type Options struct {
	DryRun       bool
	Force        bool
	Mode         Mode
	Flow         Flow
	TextComment  bool
	DirectLookup bool
}

// Validate fills in defaults and rejects combinations that cannot run.
func (o *Options) Validate() error {
	switch o.Mode {
	case "":
		o.Mode = ModeFull
	case ModeFull, ModeComments, ModeGrades:
	default:
		return NewError(ErrConfig, "mode", fmt.Errorf("unknown mode %q", o.Mode))
	}
	switch o.Flow {
	case "":
		o.Flow = FlowAssignment
	case FlowAssignment, FlowQuiz:
	default:
		return NewError(ErrConfig, "flow", fmt.Errorf("unknown flow %q", o.Flow))
	}
	if o.DirectLookup && o.Flow == FlowQuiz {
		return NewError(ErrConfig, "lookup", fmt.Errorf("direct submission lookup is only available in the assignment flow"))
	}
	return nil
}

// LMS is the part of the LMS client the pipeline uses.
type LMS interface {
	ListAssignments(ctx context.Context, courseID int64) ([]*Assignment, error)
	ListSubmissions(ctx context.Context, courseID, assignmentID int64, includeUser bool) ([]*Submission, error)
	GetSubmission(ctx context.Context, ref SubmissionRef) (*Submission, error)
	ListQuizSubmissions(ctx context.Context, courseID, quizID int64) ([]*Submission, error)
	ListQuizQuestions(ctx context.Context, courseID, quizID int64) ([]*QuizQuestion, error)
	AttachFile(ctx context.Context, ref SubmissionRef, sess *UploadSession) error
	PostGrade(ctx context.Context, ref SubmissionRef, grade GradeUpdate) error
	PostQuizScore(ctx context.Context, courseID, quizID int64, grade GradeUpdate, questions []*QuizQuestion) error
	PostTextComment(ctx context.Context, ref SubmissionRef, text string) error
}

// Confirmer asks the operator whether the assignment found in a course
// is the one the configuration names.
type Confirmer func(courseID int64, remoteName, configuredName string) (bool, error)

// Recorder receives each outcome as soon as its artifact is finished.
type Recorder interface {
	Record(runID string, o *Outcome) error
}

// Pipeline grades one directory of artifacts against one configuration.
type Pipeline struct {
	LMS      LMS
	Config   *config.Assignment
	Options  Options
	Confirm  Confirmer
	Recorder Recorder
	Log      *logrus.Entry
}

type courseState struct {
	binding     config.Binding
	assignment  *Assignment
	quizID      int64
	submissions []*Submission
	questions   []*QuizQuestion
	err         error
}

// Run processes every artifact in dir. The returned error is non-nil only
// for failures that end the whole run (a declined confirmation, bad
// options, a cancelled context); everything else is in the report.
func (p *Pipeline) Run(ctx context.Context, dir string) (*Report, error) {
	opts := p.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := p.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	bindings, err := p.Config.Bindings()
	if err != nil {
		return nil, NewError(ErrConfig, p.Config.Path, err)
	}
	var defaultCourse int64
	if len(bindings) == 1 {
		defaultCourse = bindings[0].CourseID
	}
	parser, err := NewArtifactParser(p.Config.ArtifactPattern, defaultCourse)
	if err != nil {
		return nil, NewError(ErrConfig, p.Config.Path, err)
	}
	extractor := ScoreExtractor{Label: p.Config.ScoreLabel, Column: p.Config.ScoreColumn, Factor: p.Config.Factor}

	report := &Report{
		RunID:   uuid.NewString(),
		DryRun:  opts.DryRun,
		Mode:    opts.Mode,
		Flow:    opts.Flow,
		Started: time.Now(),
	}
	log = log.WithField("run", report.RunID)

	courses, err := p.validateCourses(ctx, log, opts, bindings)
	if err != nil {
		return report, err
	}
	for _, b := range bindings {
		cs := courses[b.CourseID]
		report.Courses = append(report.Courses, CourseResult{
			CourseID:     b.CourseID,
			AssignmentID: b.AssignmentID,
			Name:         cs.remoteName(),
			Err:          cs.err,
		})
	}

	artifacts, err := FindArtifacts(dir)
	if err != nil {
		return report, NewError(ErrConfig, dir, err)
	}
	for _, path := range artifacts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		o := p.processArtifact(ctx, log.WithField("artifact", path), opts, parser, extractor, courses, path)
		report.Outcomes = append(report.Outcomes, o)
		if p.Recorder != nil {
			if err := p.Recorder.Record(report.RunID, o); err != nil {
				log.Warnf("recording outcome for %s: %v", path, err)
			}
		}
	}
	report.Finished = time.Now()

	if opts.DryRun {
		log.Infof("dry run: no upload actions were performed")
	}
	return report, nil
}

func (cs *courseState) remoteName() string {
	if cs == nil || cs.assignment == nil {
		return ""
	}
	return cs.assignment.Name
}

// validateCourses resolves each binding to an assignment, confirms it,
// and prefetches what grading will need. A failure affects only that
// course, except a declined confirmation, which ends the run.
func (p *Pipeline) validateCourses(ctx context.Context, log *logrus.Entry, opts Options, bindings []config.Binding) (map[int64]*courseState, error) {
	courses := make(map[int64]*courseState)
	confirmed := make(map[string]bool)

	for _, b := range bindings {
		if err := ctx.Err(); err != nil {
			return courses, err
		}
		clog := log.WithField("course", b.CourseID)
		cs := &courseState{binding: b}
		courses[b.CourseID] = cs

		assignments, err := p.LMS.ListAssignments(ctx, b.CourseID)
		if err != nil {
			cs.err = lookupError(b, err)
			clog.Errorf("fetching assignments: %v", err)
			continue
		}
		cs.assignment, cs.quizID, cs.err = resolveAssignment(b, assignments, opts.Flow)
		if cs.err != nil {
			clog.Errorf("%v", cs.err)
			continue
		}
		clog.Infof("assignment %d is %q", cs.assignment.ID, cs.assignment.Name)

		name := p.Config.AssignmentName
		if !opts.Force && !confirmed[name] {
			if p.Confirm == nil {
				return courses, NewError(ErrAborted, fmt.Sprintf("course %d", b.CourseID), fmt.Errorf("no way to confirm assignment %q; use --force", cs.assignment.Name))
			}
			ok, err := p.Confirm(b.CourseID, cs.assignment.Name, name)
			if err != nil {
				return courses, NewError(ErrAborted, fmt.Sprintf("course %d", b.CourseID), err)
			}
			if !ok {
				return courses, NewError(ErrAborted, fmt.Sprintf("course %d", b.CourseID), fmt.Errorf("assignment %q not confirmed", cs.assignment.Name))
			}
			confirmed[name] = true
		}

		if opts.Mode == ModeComments {
			continue
		}
		switch {
		case opts.Flow == FlowQuiz:
			if cs.questions, err = p.LMS.ListQuizQuestions(ctx, b.CourseID, cs.quizID); err != nil {
				cs.err = lookupError(b, err)
				clog.Errorf("fetching quiz questions: %v", err)
				continue
			}
			sort.SliceStable(cs.questions, func(i, j int) bool { return cs.questions[i].Position < cs.questions[j].Position })
			if cs.submissions, err = p.LMS.ListQuizSubmissions(ctx, b.CourseID, cs.quizID); err != nil {
				cs.err = lookupError(b, err)
				clog.Errorf("fetching quiz submissions: %v", err)
				continue
			}
		case !opts.DirectLookup:
			if cs.submissions, err = p.LMS.ListSubmissions(ctx, b.CourseID, cs.assignment.ID, false); err != nil {
				cs.err = lookupError(b, err)
				clog.Errorf("fetching submissions: %v", err)
				continue
			}
		}
		clog.Debugf("%d submissions prefetched", len(cs.submissions))
	}
	return courses, nil
}

func lookupError(b config.Binding, err error) error {
	if KindOf(err) != nil {
		return err
	}
	return NewError(ErrAssignmentLookup, fmt.Sprintf("course %d", b.CourseID), err)
}

// resolveAssignment finds the bound assignment, preferring an assignment
// linked to a quiz with the bound id over one whose own id matches.
func resolveAssignment(b config.Binding, assignments []*Assignment, flow Flow) (*Assignment, int64, error) {
	var found *Assignment
	viaQuiz := false
	for _, asst := range assignments {
		if asst.QuizID != nil && *asst.QuizID == b.AssignmentID {
			found, viaQuiz = asst, true
			break
		}
	}
	if found == nil {
		for _, asst := range assignments {
			if asst.ID == b.AssignmentID {
				found = asst
				break
			}
		}
	}
	subject := fmt.Sprintf("course %d", b.CourseID)
	if found == nil {
		return nil, 0, NewError(ErrAssignmentLookup, subject, fmt.Errorf("no assignment or quiz with id %d among %d assignments", b.AssignmentID, len(assignments)))
	}

	var quizID int64
	switch {
	case viaQuiz:
		quizID = b.AssignmentID
	case found.QuizID != nil:
		quizID = *found.QuizID
	}
	if flow == FlowQuiz && quizID == 0 {
		return nil, 0, NewError(ErrAssignmentLookup, subject, fmt.Errorf("assignment %d (%q) is not a quiz", found.ID, found.Name))
	}
	return found, quizID, nil
}

func (p *Pipeline) processArtifact(ctx context.Context, log *logrus.Entry, opts Options, parser *ArtifactParser, extractor ScoreExtractor, courses map[int64]*courseState, path string) *Outcome {
	o := &Outcome{Artifact: path}
	fail := func(err error) *Outcome {
		o.Err = err
		log.Errorf("%v", err)
		return o
	}

	key, err := parser.Parse(path)
	if err != nil {
		return fail(err)
	}
	o.Key = key
	log = log.WithFields(logrus.Fields{"course": key.Course, "student": key.Student})

	cs := courses[key.Course]
	if cs == nil {
		return fail(NewError(ErrAssignmentLookup, path, fmt.Errorf("course %d is not in the configuration", key.Course)))
	}
	if cs.err != nil {
		o.Skipped = true
		o.Err = cs.err
		log.Warnf("skipped: course %d could not be validated", key.Course)
		return o
	}
	ref := SubmissionRef{CourseID: key.Course, AssignmentID: cs.assignment.ID, UserID: key.Student}

	var table *Table
	var score float64
	if opts.Mode != ModeComments {
		if table, score, err = extractor.ExtractFile(path); err != nil {
			return fail(err)
		}
		o.Score = &score
		log.Infof("score is %v", score)
	} else if opts.TextComment {
		if table, err = ReadTable(path); err != nil {
			return fail(err)
		}
	}

	if opts.Mode != ModeGrades {
		p.upload(ctx, log, opts, ref, o)
	}
	if opts.TextComment {
		p.textComment(ctx, log, opts, ref, table, o)
	}
	if opts.Mode == ModeComments {
		return o
	}

	var sub *Submission
	if opts.DirectLookup {
		sub, err = p.LMS.GetSubmission(ctx, ref)
	} else {
		sub, err = MatchSubmission(cs.submissions, key.Student)
	}
	if err != nil {
		return fail(reframe(err, ErrSubmissionNotFound, path))
	}
	updates, err := NormalizeAttempts(sub, score)
	if err != nil {
		o.Err = reframe(err, ErrNoAttempt, path)
		log.Warnf("no attempts by this student: grading skipped")
		return o
	}

	for _, g := range updates {
		alog := log.WithField("attempt", g.Attempt)
		result := GradeResult{GradeUpdate: g}
		if opts.DryRun {
			alog.Infof("would post grade %s", g.PostedGrade())
		} else {
			if opts.Flow == FlowQuiz {
				err = p.LMS.PostQuizScore(ctx, ref.CourseID, cs.quizID, g, cs.questions)
			} else {
				err = p.LMS.PostGrade(ctx, ref, g)
			}
			if err != nil {
				result.Err = err
				alog.Errorf("%v", err)
			} else {
				result.Posted = true
				alog.Debugf("posted grade %s", g.PostedGrade())
			}
		}
		o.Grades = append(o.Grades, result)
	}
	if !opts.DryRun && o.GradesPosted() {
		log.Infof("uploaded grade %v", score)
	}
	return o
}

// reframe re-labels a typed error with the artifact path, or attaches
// kind def to an untyped one.
func reframe(err, def error, path string) error {
	var e *Error
	if errors.As(err, &e) {
		return NewError(e.Kind, path, e.Err)
	}
	return NewError(def, path, err)
}

func (p *Pipeline) upload(ctx context.Context, log *logrus.Entry, opts Options, ref SubmissionRef, o *Outcome) {
	sess, err := lms.NewUploadSession(o.Artifact)
	if err != nil {
		o.UploadErr = err
		log.Errorf("%v", err)
		return
	}
	o.Upload = sess
	if opts.DryRun {
		log.Infof("would upload %s (%d bytes, %s) as a comment on %v", sess.Name, sess.Size, sess.ContentType, ref)
		return
	}
	if err := p.LMS.AttachFile(ctx, ref, sess); err != nil {
		o.UploadErr = err
		log.WithField("phase", sess.Phase).Errorf("comment file upload failed: %v", err)
		return
	}
	log.Infof("attached %s as file %d", sess.Name, sess.ConfirmationID)
}

func (p *Pipeline) textComment(ctx context.Context, log *logrus.Entry, opts Options, ref SubmissionRef, table *Table, o *Outcome) {
	text, err := table.CSV()
	if err != nil {
		o.CommentErr = NewError(ErrCommentAttach, o.Artifact, err)
		log.Errorf("%v", o.CommentErr)
		return
	}
	if opts.DryRun {
		log.Infof("would post a %d byte text comment on %v", len(text), ref)
		return
	}
	if err := p.LMS.PostTextComment(ctx, ref, text); err != nil {
		o.CommentErr = err
		log.Errorf("text comment failed: %v", err)
		return
	}
	o.Commented = true
}
