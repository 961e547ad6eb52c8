package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	. "github.com/russross/gradesync/types"
)

var contentTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xlsm": "application/vnd.ms-excel.sheet.macroEnabled.12",
	".xls":  "application/vnd.ms-excel",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
}

// NewUploadSession describes the upload of one artifact without
// contacting the LMS. Dry runs log the result as the plan.
func NewUploadSession(artifact string) (*UploadSession, error) {
	info, err := os.Stat(artifact)
	if err != nil {
		return nil, NewError(ErrUploadRequest, artifact, err)
	}
	if info.IsDir() {
		return nil, NewError(ErrUploadRequest, artifact, fmt.Errorf("is a directory"))
	}
	ext := strings.ToLower(filepath.Ext(artifact))
	ct, ok := contentTypes[ext]
	if !ok {
		if ct = mime.TypeByExtension(ext); ct == "" {
			ct = "application/octet-stream"
		}
	}
	return &UploadSession{
		Artifact:    artifact,
		Name:        filepath.Base(artifact),
		Size:        info.Size(),
		ContentType: ct,
	}, nil
}

func submissionPath(ref SubmissionRef) string {
	return fmt.Sprintf("courses/%d/assignments/%d/submissions/%d", ref.CourseID, ref.AssignmentID, ref.UserID)
}

// AttachFile runs the comment file upload for one session:
// request an upload URL, send the bytes, confirm, and attach the
// confirmed file to the submission as a comment. Each phase runs only
// if the one before it succeeded; sess.Phase records how far it got.
func (c *Client) AttachFile(ctx context.Context, ref SubmissionRef, sess *UploadSession) error {
	log := c.log.WithField("artifact", sess.Artifact)

	if err := c.requestUpload(ctx, ref, sess); err != nil {
		return err
	}
	log.WithField("phase", sess.Phase).Debugf("upload URL %s", sess.UploadURL)

	status, header, body, err := c.transfer(ctx, sess)
	if err != nil {
		return err
	}
	sess.UploadStatus = status
	sess.Phase = PhaseUploaded
	log.WithField("phase", sess.Phase).Debugf("upload answered %d", status)

	if err := c.confirmUpload(ctx, sess, status, header, body); err != nil {
		return err
	}
	log.WithField("phase", sess.Phase).Debugf("confirmed as file %d", sess.ConfirmationID)

	form := url.Values{"comment[file_ids][]": {strconv.FormatInt(sess.ConfirmationID, 10)}}
	if _, err := c.sendForm(ctx, http.MethodPut, submissionPath(ref), form, nil); err != nil {
		return NewError(ErrCommentAttach, sess.Artifact, err)
	}
	sess.Phase = PhaseAttached
	log.WithField("phase", sess.Phase).Debugf("attached to %v", ref)
	return nil
}

func (c *Client) requestUpload(ctx context.Context, ref SubmissionRef, sess *UploadSession) error {
	form := url.Values{
		"name":         {sess.Name},
		"size":         {strconv.FormatInt(sess.Size, 10)},
		"content_type": {sess.ContentType},
		"on_duplicate": {"overwrite"},
	}
	ticket := new(UploadTicket)
	if _, err := c.sendForm(ctx, http.MethodPost, submissionPath(ref)+"/comments/files", form, ticket); err != nil {
		return NewError(ErrUploadRequest, sess.Artifact, err)
	}
	if ticket.UploadURL == "" {
		return NewError(ErrUploadRequest, sess.Artifact, fmt.Errorf("response has no upload_url"))
	}
	sess.UploadURL = ticket.UploadURL
	sess.UploadParams = ticket.UploadParams
	sess.FileParam = ticket.FileParam
	if sess.FileParam == "" {
		sess.FileParam = "file"
	}
	sess.Phase = PhaseRequested
	return nil
}

// transfer posts the file to the storage URL as multipart form data,
// params first and the file last, with no credentials and without
// following a redirect. Any status is returned to the caller.
func (c *Client) transfer(ctx context.Context, sess *UploadSession) (int, http.Header, []byte, error) {
	fail := func(err error) (int, http.Header, []byte, error) {
		return 0, nil, nil, NewError(ErrUploadTransfer, sess.Artifact, err)
	}

	contents, err := os.ReadFile(sess.Artifact)
	if err != nil {
		return fail(err)
	}

	var keys []string
	for key := range sess.UploadParams {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	payload := new(bytes.Buffer)
	mw := multipart.NewWriter(payload)
	for _, key := range keys {
		if err := mw.WriteField(key, sess.UploadParams[key]); err != nil {
			return fail(err)
		}
	}
	fw, err := mw.CreateFormFile(sess.FileParam, sess.Name)
	if err != nil {
		return fail(err)
	}
	if _, err := fw.Write(contents); err != nil {
		return fail(err)
	}
	if err := mw.Close(); err != nil {
		return fail(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.UploadURL, payload)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.wait(ctx); err != nil {
		return fail(err)
	}
	if c.apiReport {
		c.log.Infof("%s %s (%d bytes)", req.Method, req.URL, len(contents))
	}

	resp, err := c.upload.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	body, err := readBody(resp)
	if err != nil {
		return fail(err)
	}
	if c.apiDump {
		c.log.Infof("Response data: %s", body)
	}
	return resp.StatusCode, resp.Header, body, nil
}

type uploadAnswer struct {
	ID       int64  `json:"id"`
	Location string `json:"location"`
}

// confirmUpload completes the upload according to the class of the
// storage server's status: a terminal 2xx is confirmed by POSTing to the
// returned location, a 3xx by following the redirect with a GET.
func (c *Client) confirmUpload(ctx context.Context, sess *UploadSession, status int, header http.Header, body []byte) error {
	var answer uploadAnswer
	if len(bytes.TrimSpace(body)) > 0 {
		// a redirect body need not be JSON
		if err := json.Unmarshal(body, &answer); err != nil && status/100 == 2 {
			return NewError(ErrUploadConfirmation, sess.Artifact, errors.Wrap(err, "parsing upload response"))
		}
	}

	file := new(UploadedFile)
	switch status / 100 {
	case 2:
		if answer.Location == "" {
			if answer.ID == 0 {
				return NewError(ErrUploadConfirmation, sess.Artifact, fmt.Errorf("upload answered %d with neither location nor file id", status))
			}
			file.ID = answer.ID
			break
		}
		if _, err := c.sendForm(ctx, http.MethodPost, answer.Location, nil, file); err != nil {
			return NewError(ErrUploadConfirmation, sess.Artifact, err)
		}

	case 3:
		location := header.Get("Location")
		if location == "" {
			location = answer.Location
		}
		if location == "" {
			return NewError(ErrUploadConfirmation, sess.Artifact, fmt.Errorf("upload redirected (%d) without a location", status))
		}
		if base, err := url.Parse(sess.UploadURL); err == nil {
			if loc, err := base.Parse(location); err == nil {
				location = loc.String()
			}
		}
		if _, err := c.getJSON(ctx, location, nil, file); err != nil {
			return NewError(ErrUploadConfirmation, sess.Artifact, err)
		}

	default:
		return NewError(ErrUploadConfirmation, sess.Artifact, fmt.Errorf("upload answered %d: %s", status, truncate(string(body), 256)))
	}

	if file.ID == 0 {
		return NewError(ErrUploadConfirmation, sess.Artifact, fmt.Errorf("confirmation did not include a file id"))
	}
	sess.ConfirmationID = file.ID
	sess.Phase = PhaseConfirmed
	return nil
}
