package lms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	. "github.com/russross/gradesync/types"
)

func pageParams(extra url.Values) url.Values {
	params := url.Values{"per_page": {strconv.Itoa(DefaultPerPage)}}
	for key, vals := range extra {
		params[key] = vals
	}
	return params
}

// ListAssignments returns every assignment in a course.
func (c *Client) ListAssignments(ctx context.Context, courseID int64) ([]*Assignment, error) {
	return GetAll[*Assignment](ctx, c, fmt.Sprintf("courses/%d/assignments", courseID), pageParams(nil), "")
}

// ListSubmissions returns every submission for an assignment, with the
// abbreviated user record embedded when includeUser is set.
func (c *Client) ListSubmissions(ctx context.Context, courseID, assignmentID int64, includeUser bool) ([]*Submission, error) {
	var extra url.Values
	if includeUser {
		extra = url.Values{"include[]": {"user"}}
	}
	return GetAll[*Submission](ctx, c, fmt.Sprintf("courses/%d/assignments/%d/submissions", courseID, assignmentID), pageParams(extra), "")
}

// GetSubmission fetches one student's submission directly.
// A 404, or a record for some other user, is ErrSubmissionNotFound; any
// other failure is ErrSubmissionLookup.
func (c *Client) GetSubmission(ctx context.Context, ref SubmissionRef) (*Submission, error) {
	sub := new(Submission)
	if _, err := c.getJSON(ctx, submissionPath(ref), nil, sub); err != nil {
		if IsNotFound(err) {
			return nil, NewError(ErrSubmissionNotFound, ref.String(), err)
		}
		return nil, NewError(ErrSubmissionLookup, ref.String(), err)
	}
	if sub.UserID != ref.UserID {
		return nil, NewError(ErrSubmissionNotFound, ref.String(), fmt.Errorf("LMS returned the submission of user %d", sub.UserID))
	}
	return sub, nil
}

// ListQuizSubmissions returns every submission for a quiz.
func (c *Client) ListQuizSubmissions(ctx context.Context, courseID, quizID int64) ([]*Submission, error) {
	return GetAll[*Submission](ctx, c, fmt.Sprintf("courses/%d/quizzes/%d/submissions", courseID, quizID), pageParams(nil), "quiz_submissions")
}

// ListQuizQuestions returns a quiz's questions in position order.
func (c *Client) ListQuizQuestions(ctx context.Context, courseID, quizID int64) ([]*QuizQuestion, error) {
	return GetAll[*QuizQuestion](ctx, c, fmt.Sprintf("courses/%d/quizzes/%d/questions", courseID, quizID), pageParams(nil), "")
}

// PostGrade sets the posted grade on an assignment submission.
func (c *Client) PostGrade(ctx context.Context, ref SubmissionRef, grade GradeUpdate) error {
	form := url.Values{"submission[posted_grade]": {grade.PostedGrade()}}
	if _, err := c.sendForm(ctx, http.MethodPut, submissionPath(ref), form, nil); err != nil {
		return NewError(ErrGradePost, fmt.Sprintf("%v attempt %d", ref, grade.Attempt), err)
	}
	return nil
}

// NewQuizScoreUpdate puts the whole score on the first question and
// zeroes the second one, if the quiz has one.
func NewQuizScoreUpdate(grade GradeUpdate, questions []*QuizQuestion) (*QuizScoreUpdate, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("quiz has no questions to score")
	}
	scores := map[string]QuizQuestionScore{
		strconv.FormatInt(questions[0].ID, 10): {Score: grade.Score},
	}
	if len(questions) > 1 {
		scores[strconv.FormatInt(questions[1].ID, 10)] = QuizQuestionScore{Score: 0}
	}
	return &QuizScoreUpdate{
		QuizSubmissions: []QuizSubmissionScores{{Attempt: grade.Attempt, Questions: scores}},
	}, nil
}

// PostQuizScore scores one attempt of a quiz submission.
func (c *Client) PostQuizScore(ctx context.Context, courseID, quizID int64, grade GradeUpdate, questions []*QuizQuestion) error {
	subject := fmt.Sprintf("course %d quiz %d submission %d attempt %d", courseID, quizID, grade.SubmissionID, grade.Attempt)
	body, err := NewQuizScoreUpdate(grade, questions)
	if err != nil {
		return NewError(ErrGradePost, subject, err)
	}
	path := fmt.Sprintf("courses/%d/quizzes/%d/submissions/%d", courseID, quizID, grade.SubmissionID)
	if _, err := c.sendJSON(ctx, http.MethodPut, path, body, nil); err != nil {
		return NewError(ErrGradePost, subject, err)
	}
	return nil
}

// PostTextComment adds a plain text comment to a submission.
func (c *Client) PostTextComment(ctx context.Context, ref SubmissionRef, text string) error {
	form := url.Values{"comment[text_comment]": {text}}
	if _, err := c.sendForm(ctx, http.MethodPut, submissionPath(ref), form, nil); err != nil {
		return NewError(ErrCommentAttach, ref.String(), err)
	}
	return nil
}
