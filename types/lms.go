package types

import (
	"fmt"
	"strconv"
)

// Assignment is an entry in a course's assignment collection.
// QuizID is set when the assignment is the gradebook face of a quiz.
type Assignment struct {
	ID             int64   `json:"id"`
	CourseID       int64   `json:"course_id"`
	Name           string  `json:"name"`
	QuizID         *int64  `json:"quiz_id,omitempty"`
	PointsPossible float64 `json:"points_possible"`
}

// User is the abbreviated user record embedded in a submission
// when the listing asks for include[]=user.
type User struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	SortableName string `json:"sortable_name"`
}

// Submission is a student's record of attempts against an assignment
// or a quiz. Attempt holds the highest attempt number and is null
// when the student never submitted.
type Submission struct {
	ID           int64    `json:"id"`
	UserID       int64    `json:"user_id"`
	AssignmentID int64    `json:"assignment_id,omitempty"`
	QuizID       int64    `json:"quiz_id,omitempty"`
	Attempt      *int     `json:"attempt"`
	Score        *float64 `json:"score,omitempty"`
	User         *User    `json:"user,omitempty"`
}

// QuizQuestion is one question of a quiz, in position order.
type QuizQuestion struct {
	ID             int64   `json:"id"`
	Position       int     `json:"position"`
	QuestionName   string  `json:"question_name"`
	PointsPossible float64 `json:"points_possible"`
}

// SubmissionRef addresses a student's submission for one assignment.
type SubmissionRef struct {
	CourseID     int64
	AssignmentID int64
	UserID       int64
}

func (ref SubmissionRef) String() string {
	return fmt.Sprintf("course %d assignment %d user %d", ref.CourseID, ref.AssignmentID, ref.UserID)
}

// GradeUpdate is one grade-posting request for a single attempt.
type GradeUpdate struct {
	SubmissionID int64   `json:"submissionID"`
	UserID       int64   `json:"userID"`
	Attempt      int     `json:"attempt"`
	Score        float64 `json:"score"`
}

// PostedGrade formats the score the way it is sent as posted_grade:
// always with a fractional part, so 18 is sent as "18.0".
func (g GradeUpdate) PostedGrade() string {
	s := strconv.FormatFloat(g.Score, 'f', -1, 64)
	for _, r := range s {
		if r == '.' || r == 'e' {
			return s
		}
	}
	return s + ".0"
}

// QuizScoreUpdate is the body of a quiz submission update.
type QuizScoreUpdate struct {
	QuizSubmissions []QuizSubmissionScores `json:"quiz_submissions"`
}

// QuizSubmissionScores scores the questions of one attempt.
type QuizSubmissionScores struct {
	Attempt     int                          `json:"attempt"`
	FudgePoints *float64                     `json:"fudge_points"`
	Questions   map[string]QuizQuestionScore `json:"questions"`
}

type QuizQuestionScore struct {
	Score   float64 `json:"score"`
	Comment *string `json:"comment"`
}

// UploadTicket is the answer to an upload request: where to send the
// bytes and which form fields must accompany them.
type UploadTicket struct {
	UploadURL    string            `json:"upload_url"`
	UploadParams map[string]string `json:"upload_params"`
	FileParam    string            `json:"file_param,omitempty"`
}

// UploadedFile is the confirmed file record returned by the LMS.
type UploadedFile struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content-type"`
	URL         string `json:"url"`
	Location    string `json:"location,omitempty"`
}

// UploadPhase is the last phase an upload session completed.
type UploadPhase int

const (
	PhaseNone UploadPhase = iota
	PhaseRequested
	PhaseUploaded
	PhaseConfirmed
	PhaseAttached
)

func (p UploadPhase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseRequested:
		return "requested"
	case PhaseUploaded:
		return "uploaded"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseAttached:
		return "attached"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// UploadSession tracks one artifact through the four-phase comment file
// upload. It lives only as long as the artifact is being processed.
type UploadSession struct {
	Artifact       string            `json:"artifact"`
	Name           string            `json:"name"`
	Size           int64             `json:"size"`
	ContentType    string            `json:"contentType"`
	Phase          UploadPhase       `json:"phase"`
	UploadURL      string            `json:"uploadURL,omitempty"`
	UploadParams   map[string]string `json:"uploadParams,omitempty"`
	FileParam      string            `json:"fileParam,omitempty"`
	UploadStatus   int               `json:"uploadStatus,omitempty"`
	ConfirmationID int64             `json:"confirmationID,omitempty"`
}
