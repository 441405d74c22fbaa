package scoring

import (
	"fmt"
	"math"
	"strings"
)

var (
	metaphorWords = map[string]bool{"like": true, "than": true, "resemble": true, "resembles": true}
	asFollowers   = map[string]bool{"a": true, "an": true, "if": true, "the": true}
	contrastWords = map[string]bool{
		"but": true, "yet": true, "though": true, "although": true,
		"while": true, "whereas": true, "instead": true,
	}
	battleWords = map[string]bool{
		"battle": true, "mic": true, "bars": true, "flow": true, "rhyme": true,
		"rhymes": true, "beat": true, "verse": true, "crown": true, "throne": true,
		"king": true, "queen": true, "opponent": true, "defeat": true, "win": true,
		"lose": true, "stage": true, "crowd": true, "cypher": true, "diss": true,
		"bodied": true, "wack": true, "spit": true, "round": true,
	}
	secondPerson = map[string]bool{
		"you": true, "your": true, "you're": true, "yours": true,
		"yourself": true, "ya": true, "you'll": true, "you've": true,
	}
	fillerPhrases = []string{
		"you know", "ya know", "yeah", "uh", "like that", "straight up",
		"for real", "let's go", "and stuff", "or whatever",
	}
)

func (v verse) rhyme() (int, string) {
	ends := make([]string, len(v.lines))
	for i, l := range v.lines {
		if len(l) > 0 {
			ends[i] = l[len(l)-1]
		}
	}

	couplets := 0
	for i := 0; i+1 < len(ends); i += 2 {
		if Rhymes(ends[i], ends[i+1]) {
			couplets++
		}
	}
	cross := 0
	for _, p := range [][2]int{{0, 2}, {1, 3}, {4, 6}, {5, 7}} {
		if Rhymes(ends[p[0]], ends[p[1]]) {
			cross++
		}
	}
	internal := 0
	for i, l := range v.lines {
		for _, w := range l[:max(len(l)-1, 0)] {
			if Rhymes(w, ends[i]) {
				internal++
				break
			}
		}
	}

	score := clamp(couplets*5+cross*2+min(internal, 6), 0, MaxRhyme)
	return score, fmt.Sprintf("rhyme %d/%d: %d of 4 couplets rhyme, %d cross rhymes, %d bars with internal rhyme",
		score, MaxRhyme, couplets, cross, internal)
}

func (v verse) wordplay() (int, string) {
	metaphors, contrasts := 0, 0
	for i, w := range v.all {
		if metaphorWords[w] {
			metaphors++
		}
		if w == "as" && i+1 < len(v.all) && asFollowers[v.all[i+1]] {
			metaphors++
		}
		if contrastWords[w] {
			contrasts++
		}
	}

	diversity := 0
	if len(v.all) > 0 {
		unique := make(map[string]bool, len(v.all))
		for _, w := range v.all {
			unique[w] = true
		}
		diversity = int(math.Round(float64(len(unique)) / float64(len(v.all)) * 6))
	}

	alliterative := 0
	for _, l := range v.lines {
		for i := 0; i+1 < len(l); i++ {
			if len(l[i]) > 2 && len(l[i+1]) > 2 && l[i][0] == l[i+1][0] {
				alliterative++
				break
			}
		}
	}

	score := clamp(min(metaphors*3, 9)+min(contrasts*2, 6)+diversity+min(alliterative, 4), 0, MaxWordplay)
	return score, fmt.Sprintf("wordplay %d/%d: %d metaphor markers, %d contrasts, diversity %d/6, %d alliterative bars",
		score, MaxWordplay, metaphors, contrasts, diversity, alliterative)
}

func (v verse) flow() (int, string) {
	counts := make([]float64, len(v.lines))
	inRange := 0
	for i, l := range v.lines {
		n := 0
		for _, w := range l {
			n += CountSyllables(w)
		}
		counts[i] = float64(n)
		if n >= 8 && n <= 16 {
			inRange++
		}
	}
	mean, dev := meanStddev(counts)
	rangePts := int(math.Round(float64(inRange) / float64(len(v.lines)) * 10))
	steadyPts := int(math.Round((1 - math.Min(dev/4, 1)) * 10))

	score := clamp(rangePts+steadyPts, 0, MaxFlow)
	return score, fmt.Sprintf("flow %d/%d: %d of %d bars in 8-16 syllables, mean %.1f, spread %.1f",
		score, MaxFlow, inRange, len(v.lines), mean, dev)
}

func (v verse) relevance() (int, string) {
	vocab, you, mentions := 0, 0, 0
	names := make(map[string]bool)
	for _, w := range v.opponent {
		if len(w) > 1 {
			names[w] = true
		}
	}
	for _, w := range v.all {
		if battleWords[w] {
			vocab++
		}
		if secondPerson[w] {
			you++
		}
		if names[w] || names[strings.TrimSuffix(w, "'s")] {
			mentions++
		}
	}
	youPts := 0
	if len(v.all) > 0 {
		youPts = min(int(math.Round(float64(you)/float64(len(v.all))*25)), 5)
	}

	score := clamp(min(vocab, 6)+youPts+min(mentions*2, 4), 0, MaxRelevance)
	return score, fmt.Sprintf("relevance %d/%d: %d battle terms, %d second-person words, %d opponent mentions",
		score, MaxRelevance, vocab, you, mentions)
}

func (v verse) originality() (int, string) {
	joined := " " + strings.Join(v.all, " ") + " "
	fillers := 0
	for _, p := range fillerPhrases {
		fillers += strings.Count(joined, " "+p+" ")
	}

	letters, long := 0, 0
	for _, w := range v.all {
		n := len([]rune(w))
		letters += n
		if n >= 8 {
			long++
		}
	}
	complexity := 0
	if len(v.all) > 0 {
		avg := float64(letters) / float64(len(v.all))
		switch {
		case avg >= 4.5:
			complexity = 2
		case avg >= 4.0:
			complexity = 1
		}
	}
	if long >= 3 {
		complexity++
	}

	lengths := make([]float64, len(v.lines))
	for i, l := range v.lines {
		lengths[i] = float64(len(l))
	}
	_, dev := meanStddev(lengths)
	variety := 0
	switch {
	case dev >= 1.5:
		variety = 2
	case dev >= 0.75:
		variety = 1
	}

	score := clamp(5-fillers+complexity+variety, 0, MaxOriginality)
	return score, fmt.Sprintf("originality %d/%d: %d filler phrases, complexity +%d, line variety +%d",
		score, MaxOriginality, fillers, complexity, variety)
}

func meanStddev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
