package journal

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/russross/blackfriday/v2"
)

// Markdown renders a run and its outcomes as a markdown document.
func Markdown(run *Run, entries []*Entry) string {
	var b bytes.Buffer

	fmt.Fprintf(&b, "# Run %s\n\n", run.RunID)
	fmt.Fprintf(&b, "- assignment: %s\n", orDash(run.Assignment))
	fmt.Fprintf(&b, "- directory: `%s`\n", run.Directory)
	fmt.Fprintf(&b, "- mode: %s, flow: %s\n", run.Mode, run.Flow)
	if run.DryRun {
		fmt.Fprintf(&b, "- dry run: no upload actions were performed\n")
	}
	fmt.Fprintf(&b, "- started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "- finished: %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Fprintf(&b, "- finished: never (the run was interrupted)\n")
	}

	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Status]++
	}
	var statuses []string
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	b.WriteString("\n## Summary\n\n")
	if len(entries) == 0 {
		b.WriteString("No artifacts were processed.\n")
	}
	for _, s := range statuses {
		fmt.Fprintf(&b, "- %s: %d\n", s, counts[s])
	}

	if len(entries) == 0 {
		return b.String()
	}
	b.WriteString("\n## Artifacts\n\n")
	b.WriteString("| Artifact | Course | Student | Score | Status | Upload | Grades | Error |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, e := range entries {
		score := "-"
		if e.Score != nil {
			score = fmt.Sprintf("%.1f", *e.Score)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			cell(baseName(e.Artifact)),
			idOrDash(e.CourseID),
			idOrDash(e.StudentID),
			score,
			e.Status,
			orDash(e.UploadPhase),
			cell(gradeSummary(e.Grades)),
			cell(orDash(e.Error)))
	}
	return b.String()
}

// HTML renders a run as a standalone HTML fragment.
func HTML(run *Run, entries []*Entry) string {
	var extensions blackfriday.Extensions
	extensions |= blackfriday.NoIntraEmphasis
	extensions |= blackfriday.Tables
	extensions |= blackfriday.Autolink
	extensions |= blackfriday.SpaceHeadings
	return string(blackfriday.Run([]byte(Markdown(run, entries)), blackfriday.WithExtensions(extensions)))
}

func gradeSummary(grades []GradeEntry) string {
	if len(grades) == 0 {
		return "-"
	}
	var parts []string
	for _, g := range grades {
		mark := "ok"
		switch {
		case g.Error != "":
			mark = "error"
		case !g.Posted:
			mark = "planned"
		}
		parts = append(parts, fmt.Sprintf("%d:%.1f %s", g.Attempt, g.Score, mark))
	}
	return strings.Join(parts, ", ")
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func idOrDash(n int64) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprint(n)
}
