package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/russross/gradesync/journal"
)

func CommandReport(cmd *cobra.Command, args []string) {
	path, _ := cmd.Flags().GetString("journal")
	html, _ := cmd.Flags().GetBool("html")
	if len(args) > 1 {
		cmd.Help()
		logger.Fatalf("Usage: %s %s", os.Args[0], cmd.Use)
	}
	if _, err := os.Stat(path); err != nil {
		logger.Fatalf("no journal at %s: run submit with --journal first", path)
	}

	j, err := journal.Open(path)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer j.Close()

	runID := ""
	if len(args) == 1 {
		runID = args[0]
	}
	if err := writeReport(os.Stdout, j, runID, html); err != nil {
		logger.Fatalf("%v", err)
	}
}

// writeReport renders the named run, or the latest one when runID is empty.
func writeReport(out io.Writer, j *journal.Journal, runID string, html bool) error {
	var run *journal.Run
	var err error
	if runID == "" {
		run, err = j.LastRun()
	} else {
		run, err = j.LoadRun(runID)
	}
	if err != nil {
		return err
	}
	entries, err := j.Entries(run.RunID)
	if err != nil {
		return err
	}
	if html {
		_, err = fmt.Fprint(out, journal.HTML(run, entries))
	} else {
		_, err = fmt.Fprint(out, journal.Markdown(run, entries))
	}
	return err
}
