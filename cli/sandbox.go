package main

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/russross/gradesync/config"
	"github.com/russross/gradesync/grading"
	"github.com/russross/gradesync/lmsstub"
	. "github.com/russross/gradesync/types"
)

func CommandSandbox(cmd *cobra.Command, args []string) {
	dir := directoryArg(cmd, args)
	conf := mustLoadAssignment(cmd, dir)
	port, _ := cmd.Flags().GetInt("port")
	token, _ := cmd.Flags().GetString("sandbox-token")
	attempts, _ := cmd.Flags().GetInt("attempts")
	quiz, _ := cmd.Flags().GetBool("quiz")

	stub := lmsstub.New(token)
	n, err := seedSandbox(stub, conf, dir, attempts, quiz)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	addr := fmt.Sprintf(":%d", port)
	logger.Infof("seeded %d submission%s", n, plural(n))
	logger.Infof("sandbox API at http://localhost%s%s/ with token %q", addr, lmsstub.APIPrefix, token)
	if err := http.ListenAndServe(addr, stub); err != nil {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// seedSandbox creates the configured courses and assignments, plus one
// submission for every spreadsheet in dir whose name parses. In quiz mode
// each assignment is the face of a two-question quiz with the same id.
// It returns the number of submissions created.
func seedSandbox(stub *lmsstub.Server, conf *config.Assignment, dir string, attempts int, quiz bool) (int, error) {
	bindings, err := conf.Bindings()
	if err != nil {
		return 0, NewError(ErrConfig, conf.Path, err)
	}
	var defaultCourse int64
	if len(bindings) == 1 {
		defaultCourse = bindings[0].CourseID
	}
	parser, err := grading.NewArtifactParser(conf.ArtifactPattern, defaultCourse)
	if err != nil {
		return 0, NewError(ErrConfig, conf.Path, err)
	}

	assignments := make(map[int64]int64)
	for _, b := range bindings {
		asst := Assignment{ID: b.AssignmentID, Name: conf.AssignmentName, PointsPossible: 100}
		if quiz {
			quizID := b.AssignmentID
			asst.QuizID = &quizID
			stub.AddQuiz(b.CourseID, quizID,
				QuizQuestion{ID: 1, Position: 1, QuestionName: "Score", PointsPossible: 100},
				QuizQuestion{ID: 2, Position: 2, QuestionName: "Adjustment", PointsPossible: 0})
		}
		stub.AddAssignment(b.CourseID, asst)
		assignments[b.CourseID] = b.AssignmentID
	}

	artifacts, err := grading.FindArtifacts(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, path := range artifacts {
		key, err := parser.Parse(path)
		if err != nil {
			logger.Warnf("sandbox: %v", err)
			continue
		}
		assignmentID, ok := assignments[key.Course]
		if !ok {
			logger.Warnf("sandbox: %s: course %d is not configured", filepath.Base(path), key.Course)
			continue
		}
		name := strings.ReplaceAll(key.Name, "-", ", ")
		a := attempts
		sub := Submission{
			UserID:  key.Student,
			Attempt: &a,
			User:    &User{ID: key.Student, Name: key.Name, SortableName: name},
		}
		if attempts < 1 {
			sub.Attempt = nil
		}
		stub.AddSubmission(key.Course, assignmentID, sub)
		if quiz {
			stub.AddQuizSubmission(key.Course, assignmentID, sub)
		}
		n++
	}
	return n, nil
}
