package scoring

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// BarCount is the fixed number of bars in a verse.
const BarCount = 8

const (
	MaxRhyme       = 30
	MaxWordplay    = 25
	MaxFlow        = 20
	MaxRelevance   = 15
	MaxOriginality = 10
)

var ErrBarCount = errors.New("verse must contain exactly 8 bars")

type Breakdown struct {
	Rhyme       int `json:"rhyme"`
	Wordplay    int `json:"wordplay"`
	Flow        int `json:"flow"`
	Relevance   int `json:"relevance"`
	Originality int `json:"originality"`
}

func (b Breakdown) Sum() int {
	return b.Rhyme + b.Wordplay + b.Flow + b.Relevance + b.Originality
}

type Result struct {
	Scores    Breakdown `json:"scores"`
	Total     int       `json:"total"`
	Rationale []string  `json:"rationale"`
}

// SplitBars splits raw verse text into trimmed, non-empty lines.
func SplitBars(text string) []string {
	var bars []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			bars = append(bars, line)
		}
	}
	return bars
}

func ScoreText(text, opponent string) (Result, error) {
	return Score(SplitBars(text), opponent)
}

// Score rates a verse of exactly BarCount non-empty bars against an opponent.
func Score(bars []string, opponent string) (Result, error) {
	if len(bars) != BarCount {
		return Result{}, fmt.Errorf("%w: got %d", ErrBarCount, len(bars))
	}
	lines := make([][]string, len(bars))
	for i, bar := range bars {
		if strings.TrimSpace(bar) == "" {
			return Result{}, fmt.Errorf("%w: bar %d is empty", ErrBarCount, i+1)
		}
		lines[i] = words(normalize(bar))
	}

	v := verse{lines: lines, opponent: words(normalize(opponent))}
	for _, l := range lines {
		v.all = append(v.all, l...)
	}

	var res Result
	var why string
	res.Scores.Rhyme, why = v.rhyme()
	res.Rationale = append(res.Rationale, why)
	res.Scores.Wordplay, why = v.wordplay()
	res.Rationale = append(res.Rationale, why)
	res.Scores.Flow, why = v.flow()
	res.Rationale = append(res.Rationale, why)
	res.Scores.Relevance, why = v.relevance()
	res.Rationale = append(res.Rationale, why)
	res.Scores.Originality, why = v.originality()
	res.Rationale = append(res.Rationale, why)
	res.Total = res.Scores.Sum()
	return res, nil
}

type verse struct {
	lines    [][]string
	all      []string
	opponent []string
}

func normalize(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

func words(s string) []string {
	raw := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := raw[:0]
	for _, w := range raw {
		w = strings.Trim(w, "'")
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
