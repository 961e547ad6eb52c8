// Package config loads the per-assignment configuration file that sits in
// a grading directory next to the student spreadsheets.
//
// JSON, YAML and TOML files are read with viper; files ending in .cfg or
// .ini use the gcfg format:
//
//	[assignment]
//	software-version = 0.5
//	name = P0x01
//	score-column = Total
//
//	[course "435962"]
//	assignment = 1003214
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/blang/semver"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/gcfg.v1"

	"github.com/russross/gradesync/types"
)

const (
	DefaultScoreColumn = "Deductions"
	DefaultScoreLabel  = "Score"
	ConfigGlob         = "config*"
)

// Assignment is the configuration for one grading run.
type Assignment struct {
	SoftwareVersion string            `mapstructure:"software_version" validate:"required"`
	AssignmentName  string            `mapstructure:"assignment_name"`
	ExerciseName    string            `mapstructure:"exercise_name"`
	ScoreColumn     string            `mapstructure:"score_column"`
	ScoreLabel      string            `mapstructure:"score_label"`
	Factor          *float64          `mapstructure:"factor" validate:"omitempty,gt=0"`
	QuizIDs         map[string]string `mapstructure:"quiz_ids"`
	CourseID        string            `mapstructure:"course_id" validate:"omitempty,numeric"`
	QuizID          string            `mapstructure:"quiz_id" validate:"omitempty,numeric"`
	ArtifactPattern string            `mapstructure:"artifact_pattern"`

	// Path is where the config was loaded from.
	Path string `mapstructure:"-"`
}

// Binding maps a course to the assignment (or quiz) to be graded there.
type Binding struct {
	CourseID     int64
	AssignmentID int64
}

type iniFile struct {
	Assignment struct {
		SoftwareVersion string `gcfg:"software-version"`
		Name            string `gcfg:"name"`
		ScoreColumn     string `gcfg:"score-column"`
		ScoreLabel      string `gcfg:"score-label"`
		Factor          string `gcfg:"factor"`
		ArtifactPattern string `gcfg:"artifact-pattern"`
	}
	Course map[string]*struct {
		Assignment string `gcfg:"assignment"`
	}
}

var validate = validator.New()

// Discover finds the single file in dir matching config*.
func Discover(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, ConfigGlob))
	if err != nil {
		return "", types.NewError(types.ErrConfig, dir, err)
	}
	var files []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			files = append(files, m)
		}
	}
	switch len(files) {
	case 0:
		return "", types.NewError(types.ErrConfig, dir, fmt.Errorf("no config file matching %s", ConfigGlob))
	case 1:
		return files[0], nil
	}
	sort.Strings(files)
	return "", types.NewError(types.ErrConfig, dir, fmt.Errorf("too many config files: %s", strings.Join(files, ", ")))
}

// Load reads, validates, and version-checks an assignment config.
func Load(path string) (*Assignment, error) {
	var conf *Assignment
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cfg", ".ini":
		conf, err = loadINI(path)
	default:
		conf, err = loadViper(path)
	}
	if err != nil {
		return nil, types.NewError(types.ErrConfig, path, err)
	}
	conf.Path = path

	if conf.AssignmentName == "" {
		conf.AssignmentName = conf.ExerciseName
	}
	if conf.ScoreColumn == "" {
		conf.ScoreColumn = DefaultScoreColumn
	}
	if conf.ScoreLabel == "" {
		conf.ScoreLabel = DefaultScoreLabel
	}

	if err := validate.Struct(conf); err != nil {
		return nil, types.NewError(types.ErrConfig, path, err)
	}
	if err := CheckVersion(conf.SoftwareVersion); err != nil {
		return nil, types.NewError(types.ErrConfig, path, err)
	}
	if conf.Factor != nil && (math.IsInf(*conf.Factor, 0) || math.IsNaN(*conf.Factor)) {
		return nil, types.NewError(types.ErrConfig, path, fmt.Errorf("factor must be a finite number"))
	}
	if _, err := conf.Bindings(); err != nil {
		return nil, types.NewError(types.ErrConfig, path, err)
	}

	return conf, nil
}

func loadViper(path string) (*Assignment, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	conf := new(Assignment)
	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return conf, nil
}

func loadINI(path string) (*Assignment, error) {
	var ini iniFile
	if err := gcfg.ReadFileInto(&ini, path); err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	conf := &Assignment{
		SoftwareVersion: ini.Assignment.SoftwareVersion,
		AssignmentName:  ini.Assignment.Name,
		ScoreColumn:     ini.Assignment.ScoreColumn,
		ScoreLabel:      ini.Assignment.ScoreLabel,
		ArtifactPattern: ini.Assignment.ArtifactPattern,
		QuizIDs:         make(map[string]string),
	}
	if ini.Assignment.Factor != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(ini.Assignment.Factor), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing factor %q", ini.Assignment.Factor)
		}
		conf.Factor = &f
	}
	for course, section := range ini.Course {
		if section != nil {
			conf.QuizIDs[course] = section.Assignment
		}
	}
	return conf, nil
}

// CheckVersion refuses a config that declares a newer software version
// than this build implements. Versions like "0.5" are accepted.
func CheckVersion(declared string) error {
	want, err := semver.ParseTolerant(strings.TrimSpace(declared))
	if err != nil {
		return errors.Wrapf(err, "parsing software_version %q", declared)
	}
	have := semver.MustParse(types.CurrentVersion.Software)
	if want.GT(have) {
		return fmt.Errorf("software version (%s) too low, config file requires %s", have, want)
	}
	return nil
}

// Bindings returns the course to assignment map sorted by course ID.
// The legacy single course_id/quiz_id pair is folded in.
func (a *Assignment) Bindings() ([]Binding, error) {
	ids := make(map[string]string)
	for course, asst := range a.QuizIDs {
		ids[course] = asst
	}
	if a.CourseID != "" || a.QuizID != "" {
		if a.CourseID == "" || a.QuizID == "" {
			return nil, fmt.Errorf("course_id and quiz_id must be given together")
		}
		if prev, exists := ids[a.CourseID]; exists && prev != a.QuizID {
			return nil, fmt.Errorf("course %s is bound to both %s and %s", a.CourseID, prev, a.QuizID)
		}
		ids[a.CourseID] = a.QuizID
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no courses configured: quiz_ids is empty")
	}

	var list []Binding
	for course, asst := range ids {
		c, err := parseID(course)
		if err != nil {
			return nil, errors.Wrapf(err, "course ID %q", course)
		}
		q, err := parseID(asst)
		if err != nil {
			return nil, errors.Wrapf(err, "assignment ID %q for course %s", asst, course)
		}
		list = append(list, Binding{CourseID: c, AssignmentID: q})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CourseID < list[j].CourseID })
	return list, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return id, nil
}

// LoadToken reads the LMS access token: the first line of path with
// trailing whitespace removed.
func LoadToken(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", types.NewError(types.ErrToken, path, err)
	}
	line, _, _ := strings.Cut(string(raw), "\n")
	token := strings.TrimRight(line, " \t\r\n")
	if token == "" {
		return "", types.NewError(types.ErrToken, path, fmt.Errorf("token file is empty"))
	}
	return token, nil
}
