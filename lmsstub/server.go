// Package lmsstub is an in-process stand-in for the Canvas endpoints
// gradesync uses. It keeps courses, assignments, submissions and quizzes
// in memory, pages its collections with Link headers, runs the comment
// file upload handshake, and records every request it receives.
package lmsstub

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/binding"
	mgzip "github.com/martini-contrib/gzip"
	"github.com/martini-contrib/render"

	. "github.com/russross/gradesync/types"
)

const (
	APIPrefix       = "/api/v1"
	DefaultPageSize = 10
)

// UploadMode selects how the storage endpoint answers a file upload.
type UploadMode int

const (
	// UploadCreated answers 201 with a location to POST for confirmation.
	UploadCreated UploadMode = iota
	// UploadRedirect answers 302 with a Location to GET for confirmation.
	UploadRedirect
	// UploadRejected answers 400.
	UploadRejected
)

// Call is one request seen by the server.
type Call struct {
	Method     string
	Path       string
	Query      map[string][]string
	Authorized bool
}

func (c Call) String() string {
	return c.Method + " " + c.Path
}

// Graded is what the server has recorded against one student's
// assignment submission.
type Graded struct {
	PostedGrades []string
	FileIDs      []string
	Comments     []string
}

// StoredFile is an uploaded file.
type StoredFile struct {
	UploadedFile
	Contents  []byte
	Confirmed bool
}

type course struct {
	id          int64
	assignments []*Assignment
	submissions map[int64][]*Submission
	quizzes     map[int64]*quiz
}

type quiz struct {
	questions   []*QuizQuestion
	submissions []*Submission
}

type failure struct {
	method string
	path   *regexp.Regexp
	status int
}

type pendingUpload struct {
	ref  SubmissionRef
	name string
}

// Server is the fake LMS. The zero value is not usable; call New.
type Server struct {
	Token      string
	PageSize   int
	UploadMode UploadMode

	mu         sync.Mutex
	courses    map[int64]*course
	calls      []Call
	failures   []failure
	uploads    map[string]pendingUpload
	files      map[int64]*StoredFile
	graded     map[SubmissionRef]*Graded
	quizScores map[string][]QuizScoreUpdate
	nextID     int64

	handler http.Handler
}

// New returns an empty server that accepts the given bearer token.
func New(token string) *Server {
	s := &Server{
		Token:      token,
		PageSize:   DefaultPageSize,
		courses:    make(map[int64]*course),
		uploads:    make(map[string]pendingUpload),
		files:      make(map[int64]*StoredFile),
		graded:     make(map[SubmissionRef]*Graded),
		quizScores: make(map[string][]QuizScoreUpdate),
		nextID:     9000,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	r := martini.NewRouter()
	m := martini.New()
	m.Logger(log.New(os.Stderr, "[lmsstub] ", 0))
	m.Use(martini.Recovery())
	m.Use(s.record)
	m.Use(mgzip.All())
	m.Use(render.Renderer(render.Options{IndentJSON: false}))
	m.Map(s)
	m.MapTo(r, (*martini.Routes)(nil))
	m.Action(r.Handle)

	auth := func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.Token {
			loggedHTTPErrorf(w, http.StatusUnauthorized, "invalid access token")
		}
	}
	form := binding.Form(submissionForm{})
	sub := APIPrefix + "/courses/:course_id/assignments/:assignment_id/submissions"

	r.Get(APIPrefix+"/courses/:course_id/assignments", auth, getAssignments)
	r.Get(sub, auth, getSubmissions)
	r.Get(sub+"/:user_id", auth, getSubmission)
	r.Put(sub+"/:user_id", auth, form, putSubmission)
	r.Post(sub+"/:user_id/comments/files", auth, form, postCommentFile)
	r.Get(APIPrefix+"/courses/:course_id/quizzes/:quiz_id/questions", auth, getQuizQuestions)
	r.Get(APIPrefix+"/courses/:course_id/quizzes/:quiz_id/submissions", auth, getQuizSubmissions)
	r.Put(APIPrefix+"/courses/:course_id/quizzes/:quiz_id/submissions/:submission_id", auth, binding.Json(QuizScoreUpdate{}), putQuizSubmission)

	// storage side: no credentials expected
	r.Post("/files/upload/:token", postUpload)
	r.Post(APIPrefix+"/files/:file_id/create_success", auth, confirmUpload)
	r.Get(APIPrefix+"/files/:file_id/create_success", auth, confirmUpload)

	return m
}

// record logs every request and applies injected failures.
func (s *Server) record(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		Authorized: r.Header.Get("Authorization") != "",
	})
	for _, f := range s.failures {
		if f.method == r.Method && f.path.MatchString(r.URL.Path) {
			http.Error(w, fmt.Sprintf("injected failure for %s %s", r.Method, r.URL.Path), f.status)
			return
		}
	}
}

// FailOn makes every request whose method matches and whose path matches
// the regular expression answer with status.
func (s *Server) FailOn(method, pathPattern string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{method: method, path: regexp.MustCompile(pathPattern), status: status})
}

// AddCourse creates a course if it does not exist.
func (s *Server) AddCourse(courseID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.course(courseID)
}

func (s *Server) course(courseID int64) *course {
	c := s.courses[courseID]
	if c == nil {
		c = &course{id: courseID, submissions: make(map[int64][]*Submission), quizzes: make(map[int64]*quiz)}
		s.courses[courseID] = c
	}
	return c
}

// AddAssignment adds an assignment to a course.
func (s *Server) AddAssignment(courseID int64, asst Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asst.CourseID = courseID
	c := s.course(courseID)
	c.assignments = append(c.assignments, &asst)
}

// AddSubmission adds a student's submission to an assignment.
func (s *Server) AddSubmission(courseID, assignmentID int64, sub Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.AssignmentID = assignmentID
	if sub.ID == 0 {
		s.nextID++
		sub.ID = s.nextID
	}
	c := s.course(courseID)
	c.submissions[assignmentID] = append(c.submissions[assignmentID], &sub)
}

// AddQuiz creates a quiz with the given questions.
func (s *Server) AddQuiz(courseID, quizID int64, questions ...QuizQuestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := &quiz{}
	for i := range questions {
		elt := questions[i]
		q.questions = append(q.questions, &elt)
	}
	s.course(courseID).quizzes[quizID] = q
}

// AddQuizSubmission adds a student's quiz submission.
func (s *Server) AddQuizSubmission(courseID, quizID int64, sub Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.QuizID = quizID
	if sub.ID == 0 {
		s.nextID++
		sub.ID = s.nextID
	}
	c := s.course(courseID)
	q := c.quizzes[quizID]
	if q == nil {
		q = &quiz{}
		c.quizzes[quizID] = q
	}
	q.submissions = append(q.submissions, &sub)
}

// Calls returns a copy of every request seen so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// MutatingCalls returns the requests that were not GETs.
func (s *Server) MutatingCalls() []Call {
	var list []Call
	for _, c := range s.Calls() {
		if c.Method != http.MethodGet {
			list = append(list, c)
		}
	}
	return list
}

// Graded returns what has been posted against one submission.
func (s *Server) Graded(ref SubmissionRef) Graded {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g := s.graded[ref]; g != nil {
		return *g
	}
	return Graded{}
}

// QuizScores returns the quiz updates posted to one quiz submission.
func (s *Server) QuizScores(courseID, quizID, submissionID int64) []QuizScoreUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QuizScoreUpdate(nil), s.quizScores[quizKey(courseID, quizID, submissionID)]...)
}

// Files returns the uploaded files ordered by id.
func (s *Server) Files() []*StoredFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*StoredFile
	for _, f := range s.files {
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func quizKey(courseID, quizID, submissionID int64) string {
	return fmt.Sprintf("%d/%d/%d", courseID, quizID, submissionID)
}

func loggedHTTPErrorf(w http.ResponseWriter, status int, format string, params ...interface{}) error {
	msg := fmt.Sprintf(format, params...)
	log.Print("[lmsstub] " + msg)
	http.Error(w, msg, status)
	return fmt.Errorf("%s", msg)
}

func parseID(w http.ResponseWriter, name, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing %s from URL: %v", name, err)
	}
	if id < 1 {
		return 0, loggedHTTPErrorf(w, http.StatusBadRequest, "invalid ID in URL: %s must be 1 or greater", name)
	}
	return id, nil
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
