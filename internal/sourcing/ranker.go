package sourcing

import "strings"

// Scorer rates how well a candidate title matches a product name (0–100).
type Scorer interface {
	Score(target, title string) int
}

// Ranker picks the best candidate from one result set.
type Ranker struct {
	Threshold int
	Scorer    Scorer
}

// NewRanker builds a Ranker; a non-positive threshold selects DefaultThreshold.
func NewRanker(threshold int, scorer Scorer) *Ranker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Ranker{Threshold: threshold, Scorer: scorer}
}

// Pick scores every usable candidate against name and returns the first
// maximum if it clears the threshold. With an empty name the first usable
// candidate is accepted with score 100.
func (r *Ranker) Pick(name string, candidates []Candidate) (Candidate, bool) {
	target := strings.ToLower(strings.TrimSpace(name))

	best := Candidate{}
	found := false
	for _, c := range candidates {
		if !c.Usable() {
			continue
		}
		if target == "" {
			c.Score = 100
			return c, true
		}
		c.Score = r.Scorer.Score(target, strings.ToLower(c.Title))
		if !found || c.Score > best.Score {
			best = c
			found = true
		}
	}
	if !found || best.Score < r.Threshold {
		return Candidate{}, false
	}
	return best, true
}
