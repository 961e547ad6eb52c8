package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/russross/gradesync/types"
)

func write(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadFormats(t *testing.T) {
	files := map[string]string{
		"config.json": `{
			"software_version": "0.5",
			"assignment_name": "P0x01",
			"score_column": "Total",
			"factor": 2,
			"quiz_ids": {"2002": "3003", "1001": 4004}
		}`,
		"config.yaml": `
software_version: 0.5
assignment_name: P0x01
score_column: Total
factor: 2
quiz_ids:
  "2002": 3003
  "1001": "4004"
`,
		"config.toml": `
software_version = "0.5"
assignment_name = "P0x01"
score_column = "Total"
factor = 2.0

[quiz_ids]
"2002" = "3003"
"1001" = "4004"
`,
		"config.cfg": `
[assignment]
software-version = 0.5
name = P0x01
score-column = Total
factor = 2

[course "2002"]
assignment = 3003

[course "1001"]
assignment = 4004
`,
	}

	for name, contents := range files {
		t.Run(name, func(t *testing.T) {
			path := write(t, t.TempDir(), name, contents)
			conf, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, path, conf.Path)
			assert.Equal(t, "P0x01", conf.AssignmentName)
			assert.Equal(t, "Total", conf.ScoreColumn)
			assert.Equal(t, DefaultScoreLabel, conf.ScoreLabel)
			require.NotNil(t, conf.Factor)
			assert.Equal(t, 2.0, *conf.Factor)

			bindings, err := conf.Bindings()
			require.NoError(t, err)
			assert.Equal(t, []Binding{{CourseID: 1001, AssignmentID: 4004}, {CourseID: 2002, AssignmentID: 3003}}, bindings)
		})
	}
}

func TestLoadDefaultsAndAlias(t *testing.T) {
	path := write(t, t.TempDir(), "config", `{"software_version": "0.6.0", "exercise_name": "Lab 3", "quiz_ids": {"2002": "3003"}}`)
	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Lab 3", conf.AssignmentName)
	assert.Equal(t, DefaultScoreColumn, conf.ScoreColumn)
	assert.Equal(t, DefaultScoreLabel, conf.ScoreLabel)
	assert.Nil(t, conf.Factor)
}

func TestLoadLegacyCourse(t *testing.T) {
	path := write(t, t.TempDir(), "config.json", `{"software_version": "0.5", "course_id": "2002", "quiz_id": "3003"}`)
	conf, err := Load(path)
	require.NoError(t, err)
	bindings, err := conf.Bindings()
	require.NoError(t, err)
	assert.Equal(t, []Binding{{CourseID: 2002, AssignmentID: 3003}}, bindings)
}

func TestLoadRejects(t *testing.T) {
	tests := map[string]string{
		"newer version":    `{"software_version": "9.0", "quiz_ids": {"2002": "3003"}}`,
		"missing version":  `{"quiz_ids": {"2002": "3003"}}`,
		"bad version":      `{"software_version": "soon", "quiz_ids": {"2002": "3003"}}`,
		"no courses":       `{"software_version": "0.5"}`,
		"zero factor":      `{"software_version": "0.5", "factor": 0, "quiz_ids": {"2002": "3003"}}`,
		"negative factor":  `{"software_version": "0.5", "factor": -1, "quiz_ids": {"2002": "3003"}}`,
		"bad course id":    `{"software_version": "0.5", "quiz_ids": {"abc": "3003"}}`,
		"zero assignment":  `{"software_version": "0.5", "quiz_ids": {"2002": "0"}}`,
		"half legacy pair": `{"software_version": "0.5", "course_id": "2002"}`,
		"conflicting pair": `{"software_version": "0.5", "course_id": "2002", "quiz_id": "1", "quiz_ids": {"2002": "3003"}}`,
		"malformed file":   `{"software_version": `,
		"non-numeric quiz": `{"software_version": "0.5", "course_id": "2002", "quiz_id": "x1"}`,
	}
	for name, contents := range tests {
		t.Run(name, func(t *testing.T) {
			path := write(t, t.TempDir(), "config.json", contents)
			_, err := Load(path)
			assert.ErrorIs(t, err, types.ErrConfig)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "config.json"))
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestCheckVersion(t *testing.T) {
	assert.NoError(t, CheckVersion("0.5"))
	assert.NoError(t, CheckVersion(types.CurrentVersion.Software))
	assert.NoError(t, CheckVersion(" 0.6 "))
	assert.Error(t, CheckVersion("0.6.1"))
	assert.Error(t, CheckVersion("1"))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	_, err := Discover(dir)
	assert.ErrorIs(t, err, types.ErrConfig)

	path := write(t, dir, "config.json", "{}")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config.d"), 0755))
	found, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, path, found)

	write(t, dir, "config.yaml", "")
	_, err = Discover(dir)
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestLoadToken(t *testing.T) {
	dir := t.TempDir()

	token, err := LoadToken(write(t, dir, "API_token", "abc123  \r\nsecond line\n"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	token, err = LoadToken(write(t, dir, "bare", "xyz"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)

	_, err = LoadToken(write(t, dir, "empty", "\n"))
	assert.ErrorIs(t, err, types.ErrToken)

	_, err = LoadToken(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, types.ErrToken)
}
