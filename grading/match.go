package grading

import (
	"fmt"

	. "github.com/russross/gradesync/types"
)

// MatchSubmission returns the last submission whose user id is student.
// Ids are compared as numbers, so 1234 never matches 12345.
func MatchSubmission(subs []*Submission, student int64) (*Submission, error) {
	var found *Submission
	for _, sub := range subs {
		if sub != nil && sub.UserID == student {
			found = sub
		}
	}
	if found == nil {
		return nil, NewError(ErrSubmissionNotFound, fmt.Sprintf("user %d", student), nil)
	}
	return found, nil
}

// NormalizeAttempts expands a submission into one grade update per
// attempt, in increasing attempt order. Only the final attempt carries
// the score; every earlier attempt is set to zero so that a gradebook
// keeping the highest attempt still shows the intended grade.
func NormalizeAttempts(sub *Submission, score float64) ([]GradeUpdate, error) {
	if sub.Attempt == nil || *sub.Attempt < 1 {
		return nil, NewError(ErrNoAttempt, fmt.Sprintf("user %d", sub.UserID), nil)
	}
	n := *sub.Attempt
	updates := make([]GradeUpdate, n)
	for a := 1; a <= n; a++ {
		g := GradeUpdate{SubmissionID: sub.ID, UserID: sub.UserID, Attempt: a}
		if a == n {
			g.Score = score
		}
		updates[a-1] = g
	}
	return updates, nil
}
