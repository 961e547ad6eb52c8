package lmsstub

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-martini/martini"
	"github.com/google/uuid"
	"github.com/martini-contrib/binding"
	"github.com/martini-contrib/render"

	. "github.com/russross/gradesync/types"
)

type submissionForm struct {
	PostedGrade string   `form:"submission[posted_grade]"`
	FileIDs     []string `form:"comment[file_ids][]"`
	TextComment string   `form:"comment[text_comment]"`
	Name        string   `form:"name"`
	Size        string   `form:"size"`
	ContentType string   `form:"content_type"`
	OnDuplicate string   `form:"on_duplicate"`
}

// paginate sets the Link header for a collection of n records and
// returns the slice bounds of the requested page.
func (s *Server) paginate(w http.ResponseWriter, r *http.Request, n int) (int, int) {
	perPage := s.PageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v > 0 && v < perPage {
		perPage = v
	}
	if perPage < 1 {
		perPage = DefaultPageSize
	}
	last := (n + perPage - 1) / perPage
	if last < 1 {
		last = 1
	}
	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if page > last {
		page = last
	}

	link := func(p int, rel string) string {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(p))
		q.Set("per_page", strconv.Itoa(perPage))
		u := url.URL{Path: r.URL.Path, RawQuery: q.Encode()}
		return fmt.Sprintf("<%s%s>; rel=%q", baseURL(r), u.String(), rel)
	}
	w.Header().Add("Link", link(page, "current"))
	if page < last {
		w.Header().Add("Link", link(page+1, "next"))
	}
	if page > 1 {
		w.Header().Add("Link", link(page-1, "prev"))
	}
	w.Header().Add("Link", link(1, "first"))
	w.Header().Add("Link", link(last, "last"))

	lo, hi := (page-1)*perPage, page*perPage
	if lo > n {
		lo = n
	}
	if hi > n {
		hi = n
	}
	return lo, hi
}

func (s *Server) lookupCourse(w http.ResponseWriter, params martini.Params) *course {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return nil
	}
	c := s.courses[courseID]
	if c == nil {
		loggedHTTPErrorf(w, http.StatusNotFound, "course %d not found", courseID)
		return nil
	}
	return c
}

func getAssignments(w http.ResponseWriter, r *http.Request, s *Server, params martini.Params, render render.Render) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.lookupCourse(w, params)
	if c == nil {
		return
	}
	lo, hi := s.paginate(w, r, len(c.assignments))
	render.JSON(http.StatusOK, c.assignments[lo:hi])
}

func (s *Server) lookupSubmissions(w http.ResponseWriter, params martini.Params) (*course, int64, []*Submission, bool) {
	c := s.lookupCourse(w, params)
	if c == nil {
		return nil, 0, nil, false
	}
	assignmentID, err := parseID(w, "assignment_id", params["assignment_id"])
	if err != nil {
		return nil, 0, nil, false
	}
	for _, asst := range c.assignments {
		if asst.ID == assignmentID {
			return c, assignmentID, c.submissions[assignmentID], true
		}
	}
	loggedHTTPErrorf(w, http.StatusNotFound, "assignment %d not found in course %d", assignmentID, c.id)
	return nil, 0, nil, false
}

func withoutUsers(subs []*Submission) []*Submission {
	out := make([]*Submission, len(subs))
	for i, sub := range subs {
		elt := *sub
		elt.User = nil
		out[i] = &elt
	}
	return out
}

func getSubmissions(w http.ResponseWriter, r *http.Request, s *Server, params martini.Params, render render.Render) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, subs, ok := s.lookupSubmissions(w, params)
	if !ok {
		return
	}
	if r.URL.Query().Get("include[]") != "user" {
		subs = withoutUsers(subs)
	}
	lo, hi := s.paginate(w, r, len(subs))
	render.JSON(http.StatusOK, subs[lo:hi])
}

func getSubmission(w http.ResponseWriter, s *Server, params martini.Params, render render.Render) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, subs, ok := s.lookupSubmissions(w, params)
	if !ok {
		return
	}
	userID, err := parseID(w, "user_id", params["user_id"])
	if err != nil {
		return
	}
	for _, sub := range subs {
		if sub.UserID == userID {
			render.JSON(http.StatusOK, sub)
			return
		}
	}
	loggedHTTPErrorf(w, http.StatusNotFound, "no submission for user %d", userID)
}

func (s *Server) submissionRef(w http.ResponseWriter, params martini.Params) (SubmissionRef, bool) {
	c, assignmentID, subs, ok := s.lookupSubmissions(w, params)
	if !ok {
		return SubmissionRef{}, false
	}
	userID, err := parseID(w, "user_id", params["user_id"])
	if err != nil {
		return SubmissionRef{}, false
	}
	for _, sub := range subs {
		if sub.UserID == userID {
			return SubmissionRef{CourseID: c.id, AssignmentID: assignmentID, UserID: userID}, true
		}
	}
	loggedHTTPErrorf(w, http.StatusNotFound, "no submission for user %d", userID)
	return SubmissionRef{}, false
}

func putSubmission(w http.ResponseWriter, s *Server, params martini.Params, form submissionForm, errs binding.Errors, render render.Render) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errs.Len() > 0 {
		loggedHTTPErrorf(w, http.StatusBadRequest, "bad form data: %v", errs)
		return
	}
	ref, ok := s.submissionRef(w, params)
	if !ok {
		return
	}
	for _, id := range form.FileIDs {
		fileID, err := strconv.ParseInt(id, 10, 64)
		if err != nil || s.files[fileID] == nil || !s.files[fileID].Confirmed {
			loggedHTTPErrorf(w, http.StatusBadRequest, "unknown or unconfirmed file %q", id)
			return
		}
	}
	if form.PostedGrade != "" {
		if _, err := strconv.ParseFloat(form.PostedGrade, 64); err != nil {
			loggedHTTPErrorf(w, http.StatusBadRequest, "posted_grade %q is not a number", form.PostedGrade)
			return
		}
	}

	g := s.graded[ref]
	if g == nil {
		g = new(Graded)
		s.graded[ref] = g
	}
	if form.PostedGrade != "" {
		g.PostedGrades = append(g.PostedGrades, form.PostedGrade)
	}
	g.FileIDs = append(g.FileIDs, form.FileIDs...)
	if form.TextComment != "" {
		g.Comments = append(g.Comments, form.TextComment)
	}
	render.JSON(http.StatusOK, map[string]interface{}{"id": ref.UserID, "user_id": ref.UserID})
}

func postCommentFile(w http.ResponseWriter, r *http.Request, s *Server, params martini.Params, form submissionForm, render render.Render) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.submissionRef(w, params)
	if !ok {
		return
	}
	if form.Name == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "missing name")
		return
	}
	token := uuid.NewString()
	s.uploads[token] = pendingUpload{ref: ref, name: form.Name}
	render.JSON(http.StatusOK, &UploadTicket{
		UploadURL: baseURL(r) + "/files/upload/" + token,
		UploadParams: map[string]string{
			"filename":     form.Name,
			"content_type": form.ContentType,
		},
		FileParam: "file",
	})
}

func postUpload(w http.ResponseWriter, r *http.Request, s *Server, params martini.Params, render render.Render) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Header.Get("Authorization") != "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "storage upload must not carry credentials")
		return
	}
	pending, exists := s.uploads[params["token"]]
	if !exists {
		loggedHTTPErrorf(w, http.StatusNotFound, "unknown upload token")
		return
	}
	if s.UploadMode == UploadRejected {
		loggedHTTPErrorf(w, http.StatusBadRequest, "upload rejected")
		return
	}
	delete(s.uploads, params["token"])

	file, header, err := r.FormFile("file")
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "no file in upload: %v", err)
		return
	}
	defer file.Close()
	contents, err := io.ReadAll(file)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "reading upload: %v", err)
		return
	}

	s.nextID++
	stored := &StoredFile{
		UploadedFile: UploadedFile{
			ID:          s.nextID,
			DisplayName: pending.name,
			Filename:    header.Filename,
			Size:        int64(len(contents)),
			ContentType: r.FormValue("content_type"),
		},
		Contents: contents,
	}
	stored.URL = fmt.Sprintf("%s/files/%d/download", baseURL(r), stored.ID)
	s.files[stored.ID] = stored

	location := fmt.Sprintf("%s%s/files/%d/create_success?uuid=%s", baseURL(r), APIPrefix, stored.ID, uuid.NewString())
	if s.UploadMode == UploadRedirect {
		w.Header().Set("Location", location)
		w.WriteHeader(http.StatusFound)
		return
	}
	render.JSON(http.StatusCreated, &UploadedFile{ID: stored.ID, Location: location})
}

func confirmUpload(w http.ResponseWriter, s *Server, params martini.Params, render render.Render) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fileID, err := parseID(w, "file_id", params["file_id"])
	if err != nil {
		return
	}
	f := s.files[fileID]
	if f == nil {
		loggedHTTPErrorf(w, http.StatusNotFound, "file %d not found", fileID)
		return
	}
	f.Confirmed = true
	render.JSON(http.StatusOK, &f.UploadedFile)
}

func (s *Server) lookupQuiz(w http.ResponseWriter, params martini.Params) (*course, int64, *quiz) {
	c := s.lookupCourse(w, params)
	if c == nil {
		return nil, 0, nil
	}
	quizID, err := parseID(w, "quiz_id", params["quiz_id"])
	if err != nil {
		return nil, 0, nil
	}
	q := c.quizzes[quizID]
	if q == nil {
		loggedHTTPErrorf(w, http.StatusNotFound, "quiz %d not found in course %d", quizID, c.id)
		return nil, 0, nil
	}
	return c, quizID, q
}

func getQuizQuestions(w http.ResponseWriter, r *http.Request, s *Server, params martini.Params, render render.Render) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, q := s.lookupQuiz(w, params)
	if q == nil {
		return
	}
	lo, hi := s.paginate(w, r, len(q.questions))
	render.JSON(http.StatusOK, q.questions[lo:hi])
}

func getQuizSubmissions(w http.ResponseWriter, r *http.Request, s *Server, params martini.Params, render render.Render) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, q := s.lookupQuiz(w, params)
	if q == nil {
		return
	}
	lo, hi := s.paginate(w, r, len(q.submissions))
	render.JSON(http.StatusOK, map[string]interface{}{"quiz_submissions": q.submissions[lo:hi]})
}

func putQuizSubmission(w http.ResponseWriter, s *Server, params martini.Params, update QuizScoreUpdate, errs binding.Errors, render render.Render) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errs.Len() > 0 {
		loggedHTTPErrorf(w, http.StatusBadRequest, "bad quiz update: %v", errs)
		return
	}
	c, quizID, q := s.lookupQuiz(w, params)
	if q == nil {
		return
	}
	submissionID, err := parseID(w, "submission_id", params["submission_id"])
	if err != nil {
		return
	}
	found := false
	for _, sub := range q.submissions {
		if sub.ID == submissionID {
			found = true
		}
	}
	if !found {
		loggedHTTPErrorf(w, http.StatusNotFound, "quiz submission %d not found", submissionID)
		return
	}
	if len(update.QuizSubmissions) != 1 {
		loggedHTTPErrorf(w, http.StatusBadRequest, "expected exactly one quiz submission in update")
		return
	}
	key := quizKey(c.id, quizID, submissionID)
	s.quizScores[key] = append(s.quizScores[key], update)
	render.JSON(http.StatusOK, map[string]interface{}{"quiz_submissions": []interface{}{}})
}
