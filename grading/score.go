package grading

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	. "github.com/russross/gradesync/types"
)

// ScoreExtractor finds the score in a Table: the value in Column on the
// last row whose first cell equals Label, scaled by Factor when set.
type ScoreExtractor struct {
	Label  string
	Column string
	Factor *float64
}

// Extract applies the extractor to a table read from path (used only to
// label errors).
func (x ScoreExtractor) Extract(path string, t *Table) (float64, error) {
	col := t.Column(x.Column)
	if col < 0 {
		return 0, NewError(ErrSourceParse, path, fmt.Errorf("no %q column in header %q", x.Column, t.Header))
	}

	for row := len(t.Rows) - 1; row >= 0; row-- {
		if strings.TrimSpace(t.Cell(row, 0)) != x.Label {
			continue
		}
		raw := strings.TrimSpace(t.Cell(row, col))
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, NewError(ErrSourceParse, path, fmt.Errorf("row %d: %q value %q is not a number", row+2, x.Column, raw))
		}
		if x.Factor != nil {
			score *= *x.Factor
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return 0, NewError(ErrSourceParse, path, fmt.Errorf("row %d: score %v is not finite", row+2, score))
		}
		return score, nil
	}
	return 0, NewError(ErrScoreNotFound, path, fmt.Errorf("no row labeled %q", x.Label))
}

// ExtractFile reads path and extracts its score.
func (x ScoreExtractor) ExtractFile(path string) (*Table, float64, error) {
	t, err := ReadTable(path)
	if err != nil {
		return nil, 0, err
	}
	score, err := x.Extract(path, t)
	return t, score, err
}
