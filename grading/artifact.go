package grading

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	. "github.com/russross/gradesync/types"
)

const (
	// DefaultArtifactPattern matches the names copy-rubric writes,
	// such as Smith-5001-2002.xlsx.
	DefaultArtifactPattern = `^(?P<name>.*?)-?(?P<student>\d+)-(?P<course>\d+)\.(?i:xlsx|xlsm|csv|tsv)$`

	// LegacyArtifactPattern matches Name,12345.xlsx, where the course
	// comes from a single-course configuration.
	LegacyArtifactPattern = `^(?P<name>[^,]*),(?P<student>\d+)\.(?i:xlsx|xlsm|csv|tsv)$`
)

// ArtifactKey identifies the student and course an artifact belongs to.
type ArtifactKey struct {
	Path    string
	Name    string
	Student int64
	Course  int64
}

// ArtifactParser derives ArtifactKeys from file names. The pattern must
// have a "student" group and may have "course" and "name" groups.
type ArtifactParser struct {
	re            *regexp.Regexp
	student       int
	course        int
	name          int
	defaultCourse int64
}

// NewArtifactParser compiles pattern, which may also be the preset
// name "default" or "legacy". defaultCourse fills in the course when the
// pattern has no course group; it is zero when there is no such course.
func NewArtifactParser(pattern string, defaultCourse int64) (*ArtifactParser, error) {
	switch pattern {
	case "", "default":
		pattern = DefaultArtifactPattern
	case "legacy":
		pattern = LegacyArtifactPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrap(err, "compiling artifact pattern")
	}
	p := &ArtifactParser{re: re, defaultCourse: defaultCourse}
	p.student = re.SubexpIndex("student")
	p.course = re.SubexpIndex("course")
	p.name = re.SubexpIndex("name")
	if p.student < 0 {
		return nil, fmt.Errorf("artifact pattern %q has no (?P<student>...) group", pattern)
	}
	if p.course < 0 && defaultCourse == 0 {
		return nil, fmt.Errorf("artifact pattern %q has no (?P<course>...) group and the configuration names more than one course", pattern)
	}
	return p, nil
}

// Parse extracts the key from the base name of path.
func (p *ArtifactParser) Parse(path string) (ArtifactKey, error) {
	base := filepath.Base(path)
	groups := p.re.FindStringSubmatch(base)
	if groups == nil {
		return ArtifactKey{}, NewError(ErrArtifactName, path, fmt.Errorf("%q does not match %s", base, p.re))
	}

	key := ArtifactKey{Path: path, Course: p.defaultCourse}
	var err error
	if key.Student, err = parsePositive(groups[p.student]); err != nil {
		return ArtifactKey{}, NewError(ErrArtifactName, path, errors.Wrap(err, "student id"))
	}
	if p.course >= 0 {
		if key.Course, err = parsePositive(groups[p.course]); err != nil {
			return ArtifactKey{}, NewError(ErrArtifactName, path, errors.Wrap(err, "course id"))
		}
	}
	if p.name >= 0 {
		key.Name = strings.Trim(groups[p.name], "-_ ,")
	}
	return key, nil
}

// Matches reports whether a file name looks like an artifact at all.
func (p *ArtifactParser) Matches(name string) bool {
	return p.re.MatchString(filepath.Base(name))
}

func parsePositive(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%d is not a valid id", n)
	}
	return n, nil
}

// FindArtifacts lists the candidate score sources in dir in sorted order:
// spreadsheets and delimited files other than configuration and rubric
// files.
func FindArtifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading directory %s", dir)
	}
	var list []string
	for _, entry := range entries {
		name := entry.Name()
		lower := strings.ToLower(name)
		switch {
		case entry.IsDir():
		case strings.HasPrefix(name, "."), strings.HasPrefix(name, "~$"):
		case strings.HasPrefix(lower, "config"), strings.HasPrefix(lower, "rubric"):
		case sourceExtensions[filepath.Ext(lower)]:
			list = append(list, filepath.Join(dir, name))
		}
	}
	sort.Strings(list)
	return list, nil
}
