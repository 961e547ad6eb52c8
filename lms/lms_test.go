package lms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/russross/gradesync/lmsstub"
	. "github.com/russross/gradesync/types"
)

const testToken = "secret-token"

func quietLog() *logrus.Entry {
	logger := logrus.New()
	logger.Out = io.Discard
	logger.Level = logrus.DebugLevel
	return logrus.NewEntry(logger)
}

func newStubClient(t *testing.T) (*Client, *lmsstub.Server) {
	t.Helper()
	stub := lmsstub.New(testToken)
	ts := httptest.NewServer(stub)
	t.Cleanup(ts.Close)

	c, err := New(Options{
		BaseURL:    ts.URL + lmsstub.APIPrefix,
		Token:      testToken,
		HTTPClient: ts.Client(),
		Log:        quietLog(),
	})
	require.NoError(t, err)
	return c, stub
}

func newRawClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := New(Options{BaseURL: ts.URL, Token: testToken, HTTPClient: ts.Client(), Log: quietLog()})
	require.NoError(t, err)
	return c
}

func intp(n int) *int { return &n }

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com/", Token: "x"})
	assert.Error(t, err)

	_, err = New(Options{BaseURL: "https://example.com/api/v1"})
	assert.Error(t, err)

	c, err := New(Options{Token: "x"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
}

func TestGetAllSinglePage(t *testing.T) {
	c, stub := newStubClient(t)
	stub.AddAssignment(2002, Assignment{ID: 1, Name: "P0x01"})
	stub.AddAssignment(2002, Assignment{ID: 2, Name: "P0x02"})

	list, err := c.ListAssignments(context.Background(), 2002)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "P0x01", list[0].Name)
	assert.Len(t, stub.Calls(), 1)
}

func TestGetAllFollowsPagesInOrder(t *testing.T) {
	c, stub := newStubClient(t)
	stub.PageSize = 2
	for i := int64(1); i <= 5; i++ {
		stub.AddAssignment(2002, Assignment{ID: i, Name: fmt.Sprintf("A%d", i)})
	}

	list, err := c.ListAssignments(context.Background(), 2002)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, asst := range list {
		assert.Equal(t, int64(i+1), asst.ID)
	}
	assert.Len(t, stub.Calls(), 3)
}

func TestGetAllWrappedCollection(t *testing.T) {
	c, stub := newStubClient(t)
	stub.PageSize = 1
	stub.AddQuiz(2002, 77, QuizQuestion{ID: 1})
	stub.AddQuizSubmission(2002, 77, Submission{ID: 10, UserID: 5001, Attempt: intp(1)})
	stub.AddQuizSubmission(2002, 77, Submission{ID: 11, UserID: 5002, Attempt: intp(2)})

	list, err := c.ListQuizSubmissions(context.Background(), 2002, 77)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(10), list[0].ID)
	assert.Equal(t, int64(11), list[1].ID)
}

func linkHandler(links func(r *http.Request, base string) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host + r.URL.Path
		if l := links(r, base); l != "" {
			w.Header().Set("Link", l)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id": 1}]`)
	})
}

func TestGetAllPaginationErrors(t *testing.T) {
	tests := []struct {
		name  string
		links func(r *http.Request, base string) string
	}{
		{"no links", func(r *http.Request, base string) string { return "" }},
		{"missing last", func(r *http.Request, base string) string {
			return fmt.Sprintf(`<%s?page=1>; rel="current"`, base)
		}},
		{"missing next", func(r *http.Request, base string) string {
			return fmt.Sprintf(`<%s?page=1>; rel="current", <%s?page=3>; rel="last"`, base, base)
		}},
		{"cycle", func(r *http.Request, base string) string {
			page := r.URL.Query().Get("page")
			if page == "" {
				page = "1"
			}
			next := "2"
			if page == "2" {
				next = "1"
			}
			return fmt.Sprintf(`<%s?page=%s>; rel="current", <%s?page=%s>; rel="next", <%s?page=9>; rel="last"`,
				base, page, base, next, base)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newRawClient(t, linkHandler(tt.links))
			_, err := GetAll[*Assignment](context.Background(), c, "courses/1/assignments", nil, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPagination)
		})
	}
}

func TestGetAllPageCap(t *testing.T) {
	c := newRawClient(t, linkHandler(func(r *http.Request, base string) string {
		page := r.URL.Query().Get("page")
		n := 1
		fmt.Sscanf(page, "%d", &n)
		return fmt.Sprintf(`<%s?page=%d>; rel="current", <%s?page=%d>; rel="next", <%s?page=1000000>; rel="last"`,
			base, n, base, n+1, base)
	}))
	c.maxPages = 4
	list, err := GetAll[*Assignment](context.Background(), c, "courses/1/assignments", nil, "")
	assert.ErrorIs(t, err, ErrPagination)
	assert.Len(t, list, 4)
}

func TestGetAllRejectsNonCollection(t *testing.T) {
	bodies := map[string]string{
		"error object":     `{"errors": [{"message": "nope"}]}`,
		"maintenance page": `<html>down for maintenance</html>`,
		"truncated":        `[{"id": 1}`,
		"empty":            ``,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c := newRawClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			_, err := GetAll[*Assignment](context.Background(), c, "courses/1/assignments", nil, "")
			assert.ErrorIs(t, err, ErrPagination)
			assert.Equal(t, ErrPagination, KindOf(err))

			_, err = GetAll[*Submission](context.Background(), c, "courses/1/quizzes/2/submissions", nil, "quiz_submissions")
			assert.ErrorIs(t, err, ErrPagination)
		})
	}
}

func TestGetSubmission(t *testing.T) {
	c, stub := newStubClient(t)
	stub.AddAssignment(2002, Assignment{ID: 3003})
	stub.AddSubmission(2002, 3003, Submission{UserID: 5001, Attempt: intp(2)})

	sub, err := c.GetSubmission(context.Background(), SubmissionRef{CourseID: 2002, AssignmentID: 3003, UserID: 5001})
	require.NoError(t, err)
	assert.Equal(t, 2, *sub.Attempt)

	_, err = c.GetSubmission(context.Background(), SubmissionRef{CourseID: 2002, AssignmentID: 3003, UserID: 500})
	assert.ErrorIs(t, err, ErrSubmissionNotFound)

	stub.FailOn(http.MethodGet, `/submissions/5001$`, http.StatusInternalServerError)
	_, err = c.GetSubmission(context.Background(), SubmissionRef{CourseID: 2002, AssignmentID: 3003, UserID: 5001})
	assert.ErrorIs(t, err, ErrSubmissionLookup)
	assert.NotErrorIs(t, err, ErrSubmissionNotFound)
	var se *StatusError
	assert.ErrorAs(t, err, &se)
}

func TestUnauthorizedIsAnError(t *testing.T) {
	stub := lmsstub.New("other-token")
	ts := httptest.NewServer(stub)
	defer ts.Close()
	c, err := New(Options{BaseURL: ts.URL + lmsstub.APIPrefix, Token: testToken, HTTPClient: ts.Client(), Log: quietLog()})
	require.NoError(t, err)

	_, err = c.ListAssignments(context.Background(), 1)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestPostGradeAndComment(t *testing.T) {
	c, stub := newStubClient(t)
	stub.AddAssignment(2002, Assignment{ID: 3003})
	stub.AddSubmission(2002, 3003, Submission{UserID: 5001, Attempt: intp(2)})
	ref := SubmissionRef{CourseID: 2002, AssignmentID: 3003, UserID: 5001}

	require.NoError(t, c.PostGrade(context.Background(), ref, GradeUpdate{UserID: 5001, Attempt: 1, Score: 0}))
	require.NoError(t, c.PostGrade(context.Background(), ref, GradeUpdate{UserID: 5001, Attempt: 2, Score: 18}))
	require.NoError(t, c.PostTextComment(context.Background(), ref, "Score,18"))

	g := stub.Graded(ref)
	assert.Equal(t, []string{"0.0", "18.0"}, g.PostedGrades)
	assert.Equal(t, []string{"Score,18"}, g.Comments)

	stub.FailOn(http.MethodPut, `/submissions/5001$`, http.StatusInternalServerError)
	err := c.PostGrade(context.Background(), ref, GradeUpdate{Attempt: 1, Score: 3})
	assert.ErrorIs(t, err, ErrGradePost)
}

func TestPostQuizScore(t *testing.T) {
	c, stub := newStubClient(t)
	stub.AddQuiz(2002, 77, QuizQuestion{ID: 501, Position: 1}, QuizQuestion{ID: 502, Position: 2})
	stub.AddQuizSubmission(2002, 77, Submission{ID: 10, UserID: 5001, Attempt: intp(1)})
	questions, err := c.ListQuizQuestions(context.Background(), 2002, 77)
	require.NoError(t, err)

	require.NoError(t, c.PostQuizScore(context.Background(), 2002, 77, GradeUpdate{SubmissionID: 10, Attempt: 1, Score: 9.5}, questions))

	updates := stub.QuizScores(2002, 77, 10)
	require.Len(t, updates, 1)
	scores := updates[0].QuizSubmissions[0]
	assert.Equal(t, 1, scores.Attempt)
	assert.Equal(t, 9.5, scores.Questions["501"].Score)
	assert.Equal(t, 0.0, scores.Questions["502"].Score)

	err = c.PostQuizScore(context.Background(), 2002, 77, GradeUpdate{SubmissionID: 10, Attempt: 1}, nil)
	assert.ErrorIs(t, err, ErrGradePost)
}

func writeArtifact(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("Score,18\n"), 0644))
	return path
}

func uploadFixture(t *testing.T) (*Client, *lmsstub.Server, SubmissionRef, *UploadSession) {
	t.Helper()
	c, stub := newStubClient(t)
	stub.AddAssignment(2002, Assignment{ID: 3003})
	stub.AddSubmission(2002, 3003, Submission{UserID: 5001, Attempt: intp(2)})
	sess, err := NewUploadSession(writeArtifact(t, "Smith-5001-2002.csv"))
	require.NoError(t, err)
	return c, stub, SubmissionRef{CourseID: 2002, AssignmentID: 3003, UserID: 5001}, sess
}

func TestAttachFileCreatedConfirmsWithPost(t *testing.T) {
	c, stub, ref, sess := uploadFixture(t)

	require.NoError(t, c.AttachFile(context.Background(), ref, sess))
	assert.Equal(t, PhaseAttached, sess.Phase)
	assert.Equal(t, http.StatusCreated, sess.UploadStatus)
	assert.NotZero(t, sess.ConfirmationID)

	calls := stub.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "POST", calls[0].Method)
	assert.Contains(t, calls[0].Path, "/comments/files")
	assert.Equal(t, []string{"overwrite"}, calls[0].Query["on_duplicate"])
	assert.Equal(t, "POST", calls[1].Method)
	assert.False(t, calls[1].Authorized, "storage upload must not carry the token")
	assert.Equal(t, "POST", calls[2].Method)
	assert.Contains(t, calls[2].Path, "create_success")
	assert.Equal(t, "PUT", calls[3].Method)

	files := stub.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "Score,18\n", string(files[0].Contents))
	assert.Equal(t, []string{fmt.Sprint(sess.ConfirmationID)}, stub.Graded(ref).FileIDs)
}

func TestAttachFileRedirectConfirmsWithGet(t *testing.T) {
	c, stub, ref, sess := uploadFixture(t)
	stub.UploadMode = lmsstub.UploadRedirect

	require.NoError(t, c.AttachFile(context.Background(), ref, sess))
	assert.Equal(t, PhaseAttached, sess.Phase)
	assert.Equal(t, http.StatusFound, sess.UploadStatus)

	calls := stub.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "GET", calls[2].Method)
	assert.Contains(t, calls[2].Path, "create_success")
}

func TestAttachFileRequestFailureStopsSession(t *testing.T) {
	c, stub, ref, sess := uploadFixture(t)
	stub.FailOn(http.MethodPost, `/comments/files$`, http.StatusForbidden)

	err := c.AttachFile(context.Background(), ref, sess)
	assert.ErrorIs(t, err, ErrUploadRequest)
	assert.Equal(t, PhaseNone, sess.Phase)
	assert.Len(t, stub.Calls(), 1)
	assert.Empty(t, stub.Files())
}

func TestAttachFileRejectedUpload(t *testing.T) {
	c, stub, ref, sess := uploadFixture(t)
	stub.UploadMode = lmsstub.UploadRejected

	err := c.AttachFile(context.Background(), ref, sess)
	assert.ErrorIs(t, err, ErrUploadConfirmation)
	assert.Equal(t, PhaseUploaded, sess.Phase)
	assert.Len(t, stub.Calls(), 2)
}

func TestAttachFileTransferFailure(t *testing.T) {
	c, _, ref, sess := uploadFixture(t)
	require.NoError(t, c.requestUpload(context.Background(), ref, sess))
	sess.UploadURL = "http://127.0.0.1:1/files/upload/x"

	_, _, _, err := c.transfer(context.Background(), sess)
	assert.ErrorIs(t, err, ErrUploadTransfer)
}

func TestAttachFileAttachFailure(t *testing.T) {
	c, stub, ref, sess := uploadFixture(t)
	stub.FailOn(http.MethodPut, `/submissions/5001$`, http.StatusInternalServerError)

	err := c.AttachFile(context.Background(), ref, sess)
	assert.ErrorIs(t, err, ErrCommentAttach)
	assert.Equal(t, PhaseConfirmed, sess.Phase)
}

func TestNewUploadSession(t *testing.T) {
	sess, err := NewUploadSession(writeArtifact(t, "Smith-5001-2002.xlsx"))
	require.NoError(t, err)
	assert.Equal(t, "Smith-5001-2002.xlsx", sess.Name)
	assert.Equal(t, int64(9), sess.Size)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", sess.ContentType)

	_, err = NewUploadSession(filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.ErrorIs(t, err, ErrUploadRequest)
}

func TestRateLimitedClientStillWorks(t *testing.T) {
	stub := lmsstub.New(testToken)
	ts := httptest.NewServer(stub)
	defer ts.Close()
	stub.AddAssignment(1, Assignment{ID: 1})
	c, err := New(Options{BaseURL: ts.URL + lmsstub.APIPrefix, Token: testToken, HTTPClient: ts.Client(), RequestsPerSecond: 50, Log: quietLog()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = c.ListAssignments(ctx, 1)
	require.NoError(t, err)
	cancel()
	_, err = c.ListAssignments(ctx, 1)
	assert.Error(t, err)
}
