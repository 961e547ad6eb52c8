package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/russross/gradesync/config"
	"github.com/russross/gradesync/grading"
	"github.com/russross/gradesync/journal"
	. "github.com/russross/gradesync/types"
)

func CommandSubmit(cmd *cobra.Command, args []string) {
	dir := directoryArg(cmd, args)
	conf := mustLoadAssignment(cmd, dir)

	var opts grading.Options
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	opts.Force, _ = cmd.Flags().GetBool("force")
	opts.TextComment, _ = cmd.Flags().GetBool("text-comment")
	opts.DirectLookup, _ = cmd.Flags().GetBool("direct")
	mode, _ := cmd.Flags().GetString("mode")
	flow, _ := cmd.Flags().GetString("flow")
	opts.Mode, opts.Flow = grading.Mode(mode), grading.Flow(flow)
	if err := opts.Validate(); err != nil {
		logger.Fatalf("%v", err)
	}
	journalPath, _ := cmd.Flags().GetString("journal")

	client := mustNewClient(cmd)
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := submit(ctx, client, submitRequest{
		Dir:     dir,
		Config:  conf,
		Options: opts,
		Journal: journalPath,
		Confirm: promptConfirmer(os.Stdin, os.Stdout, interactive),
	}, logrus.NewEntry(logger), os.Stdout)
	if err != nil {
		if errors.Is(err, ErrAborted) {
			logger.Fatalf("stopping: %v", err)
		}
		logger.Fatalf("%v", err)
	}
	if report.Failed() {
		os.Exit(1)
	}
}

type submitRequest struct {
	Dir     string
	Config  *config.Assignment
	Options grading.Options
	Journal string
	Confirm grading.Confirmer
}

// submit runs the pipeline over one directory, records it in the journal
// if one was requested, and prints a summary to out.
func submit(ctx context.Context, client grading.LMS, req submitRequest, log *logrus.Entry, out io.Writer) (*grading.Report, error) {
	p := &grading.Pipeline{
		LMS:     client,
		Config:  req.Config,
		Options: req.Options,
		Confirm: req.Confirm,
		Log:     log,
	}

	var j *journal.Journal
	if req.Journal != "" {
		var err error
		if j, err = journal.Open(req.Journal); err != nil {
			return nil, err
		}
		defer j.Close()
		abs, err := filepath.Abs(req.Dir)
		if err != nil {
			abs = req.Dir
		}
		j.Begin(abs, req.Config.AssignmentName, req.Options)
		p.Recorder = j
	}

	report, err := p.Run(ctx, req.Dir)
	if report != nil && j != nil {
		if ferr := j.Finish(report); ferr != nil {
			log.Warnf("journal: %v", ferr)
		}
	}
	if err != nil {
		return report, err
	}
	printReport(out, report)
	return report, nil
}

// promptConfirmer asks on out and reads a yes/no answer from in. When in
// is not a terminal there is nobody to ask, so every question is declined.
func promptConfirmer(in io.Reader, out io.Writer, interactive bool) grading.Confirmer {
	reader := bufio.NewReader(in)
	return func(courseID int64, remoteName, configuredName string) (bool, error) {
		if !interactive {
			return false, fmt.Errorf("course %d: assignment is named %q but the config says %q; "+
				"cannot ask for confirmation without a terminal (use --force)", courseID, remoteName, configuredName)
		}
		fmt.Fprintf(out, "course %d: Canvas assignment is named %q, config says %q\n", courseID, remoteName, configuredName)
		fmt.Fprintf(out, "is this the right assignment? [y/N] ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

func printReport(out io.Writer, report *grading.Report) {
	for _, c := range report.Courses {
		if c.Err != nil {
			fmt.Fprintf(out, "course %d: %v\n", c.CourseID, c.Err)
		}
	}
	for _, o := range report.Outcomes {
		status := o.Status(report.DryRun)
		line := fmt.Sprintf("%-10s %s", status, filepath.Base(o.Artifact))
		if o.Score != nil {
			line += fmt.Sprintf(" (%.1f)", *o.Score)
		}
		fmt.Fprintln(out, line)

		var problems []error
		if o.Err != nil {
			problems = append(problems, o.Err)
		}
		if o.UploadErr != nil {
			problems = append(problems, o.UploadErr)
		}
		if o.CommentErr != nil {
			problems = append(problems, o.CommentErr)
		}
		for _, g := range o.Grades {
			if g.Err != nil {
				problems = append(problems, g.Err)
			}
		}
		for _, err := range problems {
			fmt.Fprintf(out, "           %v\n", err)
		}
	}

	tally := report.Tally()
	var statuses []string
	for s := range tally {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	var parts []string
	for _, s := range statuses {
		parts = append(parts, fmt.Sprintf("%d %s", tally[s], s))
	}
	n := len(report.Outcomes)
	if n == 0 {
		fmt.Fprintf(out, "no spreadsheets found\n")
	} else {
		fmt.Fprintf(out, "%d spreadsheet%s: %s\n", n, plural(n), strings.Join(parts, ", "))
	}
	if report.DryRun {
		fmt.Fprintf(out, "dry run: no upload actions were performed\n")
	}
}
