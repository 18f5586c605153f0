package sourcing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRankerPickBestAboveThreshold(t *testing.T) {
	t.Parallel()

	r := NewRanker(70, mapScorer{"blue widget": 40, "red widget": 90, "red widget large": 90})
	got, ok := r.Pick("Red Widget", []Candidate{
		{ImageURL: "https://x/1.jpg", Title: "Blue Widget"},
		{ImageURL: "https://x/2.jpg", Title: "Red Widget"},
		{ImageURL: "https://x/3.jpg", Title: "Red Widget Large"},
	})
	require.True(t, ok)
	require.Equal(t, "https://x/2.jpg", got.ImageURL, "first maximum wins")
	require.Equal(t, 90, got.Score)
}

func TestRankerPickBelowThreshold(t *testing.T) {
	t.Parallel()

	r := NewRanker(70, mapScorer{"a": 69})
	_, ok := r.Pick("thing", []Candidate{{ImageURL: "https://x/a.jpg", Title: "a"}})
	require.False(t, ok)
}

func TestRankerPickAtThreshold(t *testing.T) {
	t.Parallel()

	r := NewRanker(70, mapScorer{"a": 70})
	got, ok := r.Pick("thing", []Candidate{{ImageURL: "https://x/a.jpg", Title: "a"}})
	require.True(t, ok)
	require.Equal(t, 70, got.Score)
}

func TestRankerEmptyNameTakesFirstUsable(t *testing.T) {
	t.Parallel()

	r := NewRanker(0, mapScorer{})
	require.Equal(t, DefaultThreshold, r.Threshold)
	got, ok := r.Pick("  ", []Candidate{
		{ImageURL: "", Title: "no url"},
		{ImageURL: "https://x/2.jpg", Title: "second"},
		{ImageURL: "https://x/3.jpg", Title: "third"},
	})
	require.True(t, ok)
	require.Equal(t, "https://x/2.jpg", got.ImageURL)
	require.Equal(t, 100, got.Score)
}

func TestRankerDropsUnusable(t *testing.T) {
	t.Parallel()

	r := NewRanker(70, mapScorer{"": 100})
	_, ok := r.Pick("thing", []Candidate{{ImageURL: "https://x/a.jpg"}, {Title: "t"}})
	require.False(t, ok)
	_, ok = r.Pick("thing", nil)
	require.False(t, ok)
}

func TestRankerLowercasesBothSides(t *testing.T) {
	t.Parallel()

	rec := &recordingScorer{}
	r := NewRanker(70, rec)
	r.Pick("Big APPLE", []Candidate{{ImageURL: "u", Title: "BIG Apple"}})
	require.Equal(t, []string{"big apple|big apple"}, rec.calls)
}

type mapScorer map[string]int

func (m mapScorer) Score(_, title string) int {
	return m[title]
}

type recordingScorer struct {
	calls []string
}

func (r *recordingScorer) Score(a, b string) int {
	r.calls = append(r.calls, strings.Join([]string{a, b}, "|"))
	return 100
}
