// Package tokenset scores names with an order-insensitive token-set ratio.
//
// Inputs are cleansed (lower-cased, punctuation folded to spaces) before the
// token sets are compared, so "Juice Apple RED" and "red apple juice" score
// 100.
package tokenset

import (
	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

const (
	asciiOnly = false
	cleanse   = true
)

// Scorer computes token-set ratios.
type Scorer struct{}

// New returns a Scorer.
func New() *Scorer {
	return &Scorer{}
}

// Score returns the token-set ratio between a and b in [0, 100].
func (Scorer) Score(a, b string) int {
	return Ratio(a, b)
}

// Ratio returns the token-set ratio between a and b in [0, 100]. Blank
// inputs score 0.
func Ratio(a, b string) int {
	return fuzzy.TokenSetRatio(a, b, asciiOnly, cleanse)
}
