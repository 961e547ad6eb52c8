package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/russross/gradesync/config"
	. "github.com/russross/gradesync/types"
)

const (
	rubricGlob        = "rubric*.xlsx"
	testStudentPrefix = "Student-Test"
)

// submissionLister is the part of the LMS client copy-rubric needs.
type submissionLister interface {
	ListSubmissions(ctx context.Context, courseID, assignmentID int64, includeUser bool) ([]*Submission, error)
}

func CommandCopyRubric(cmd *cobra.Command, args []string) {
	dir := directoryArg(cmd, args)
	conf := mustLoadAssignment(cmd, dir)
	rubric, _ := cmd.Flags().GetString("rubric")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if rubric == "" {
		var err error
		if rubric, err = findRubric(dir); err != nil {
			logger.Fatalf("%v", err)
		}
	}

	client := mustNewClient(cmd)
	created, err := copyRubric(context.Background(), client, conf, rubric, dir, dryRun, os.Stdout)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	if dryRun {
		fmt.Printf("dry run: %d file%s would be created\n", created, plural(created))
	} else {
		fmt.Printf("created %d file%s\n", created, plural(created))
	}
}

func findRubric(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, rubricGlob))
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no rubric file matching %s in %s", rubricGlob, dir)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("too many rubric files: %s", strings.Join(matches, ", "))
}

// rubricFileName is the spreadsheet name for one student in one course,
// in the form the artifact parser expects.
func rubricFileName(user *User, courseID int64) string {
	name := strings.ReplaceAll(user.SortableName, " ", "")
	name = strings.ReplaceAll(name, ",", "-")
	if strings.HasPrefix(name, testStudentPrefix) {
		name = "Zz-" + name
	}
	return fmt.Sprintf("%s-%d-%d.xlsx", name, user.ID, courseID)
}

// copyRubric copies the rubric into dir once for every student with a
// submission in each configured course. Files that already exist are
// kept. It returns the number of files created (or, in a dry run, the
// number that would be).
func copyRubric(ctx context.Context, client submissionLister, conf *config.Assignment, rubric, dir string, dryRun bool, out io.Writer) (int, error) {
	bindings, err := conf.Bindings()
	if err != nil {
		return 0, NewError(ErrConfig, conf.Path, err)
	}
	info, err := os.Stat(rubric)
	if err != nil {
		return 0, errors.Wrap(err, "rubric")
	}

	created := 0
	for _, b := range bindings {
		subs, err := client.ListSubmissions(ctx, b.CourseID, b.AssignmentID, true)
		if err != nil {
			return created, errors.Wrapf(err, "listing submissions for course %d", b.CourseID)
		}
		for _, sub := range subs {
			if sub.User == nil {
				logger.Warnf("course %d: submission %d has no user record, skipping", b.CourseID, sub.ID)
				continue
			}
			target := filepath.Join(dir, rubricFileName(sub.User, b.CourseID))
			if _, err := os.Stat(target); err == nil {
				logger.Debugf("%s already exists", target)
				continue
			}
			if dryRun {
				fmt.Fprintf(out, "would create %s\n", target)
				created++
				continue
			}
			if err := copyFile(rubric, target, info); err != nil {
				return created, err
			}
			fmt.Fprintf(out, "created %s\n", target)
			created++
		}
	}
	return created, nil
}

func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "opening rubric")
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return errors.Wrapf(err, "creating %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copying to %s", dst)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", dst)
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
