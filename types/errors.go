package types

import (
	"errors"
	"fmt"
)

// Error kinds. Fatal kinds stop the run (ErrConfig, ErrToken, ErrAborted),
// ErrAssignmentLookup stops one course, ErrPagination stops whatever
// depended on the collection, and the rest are reported per artifact
// or per attempt while the batch continues.
var (
	ErrConfig             = errors.New("configuration error")
	ErrToken              = errors.New("access token error")
	ErrAborted            = errors.New("aborted by operator")
	ErrArtifactName       = errors.New("unrecognized artifact name")
	ErrSourceParse        = errors.New("score source parse error")
	ErrScoreNotFound      = errors.New("score not found")
	ErrAssignmentLookup   = errors.New("assignment lookup failed")
	ErrPagination         = errors.New("pagination error")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrSubmissionLookup   = errors.New("submission lookup failed")
	ErrNoAttempt          = errors.New("no attempts")
	ErrUploadRequest      = errors.New("upload request failed")
	ErrUploadTransfer     = errors.New("upload transfer failed")
	ErrUploadConfirmation = errors.New("upload confirmation failed")
	ErrCommentAttach      = errors.New("comment attach failed")
	ErrGradePost          = errors.New("grade post failed")
)

// Error attaches one of the error kinds above to the thing it concerns
// (a file, a course, a URL) and the underlying cause, if any.
// errors.Is matches both the kind and anything in the cause chain.
type Error struct {
	Kind    error
	Subject string
	Err     error
}

// NewError returns an *Error; err may be nil.
func NewError(kind error, subject string, err error) error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Subject == "" && e.Err == nil:
		return e.Kind.Error()
	case e.Subject == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Subject, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Subject, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

// KindOf returns the error kind carried by err, or nil if there is none.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}
