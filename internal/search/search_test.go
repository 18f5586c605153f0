package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-image-sourcer/internal/fetcher"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

func TestCollectorCapsAndDropsUnusable(t *testing.T) {
	t.Parallel()

	c := NewCollector(2)
	assert.True(t, c.Add("", "no url"))
	assert.True(t, c.Add("http://a/1.jpg", ""))
	assert.True(t, c.Add("http://a/1.jpg", "first"))
	assert.False(t, c.Add("http://a/2.jpg", "second"))
	assert.False(t, c.Add("http://a/3.jpg", "third"))

	got := c.Candidates()
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Title)
	assert.Equal(t, 0, got[0].Rank)
	assert.Equal(t, 1, got[1].Rank)
}

func TestCollectorDefaultCap(t *testing.T) {
	t.Parallel()

	c := NewCollector(0)
	for i := range 10 {
		c.Add("http://a/x.jpg", string(rune('a'+i)))
	}
	assert.Len(t, c.Candidates(), sourcing.DefaultMaxCandidates)
}

func TestFailSwallowsProviderErrors(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	got, err := Fail(context.Background(), zap.New(core), sourcing.BackendBing, "apple", errors.New("503"))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "search failed", logs.All()[0].Message)

	_, err = Fail(context.Background(), zap.New(core), sourcing.BackendBing, "apple", context.DeadlineExceeded)
	require.NoError(t, err)
	assert.Equal(t, "search timed out", logs.All()[1].Message)
}

func TestFailReturnsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Fail(ctx, zap.NewNop(), sourcing.BackendYahoo, "apple", errors.New("dial"))
	require.ErrorIs(t, err, context.Canceled)
}

type statusFetcher int

func (s statusFetcher) Fetch(context.Context, fetcher.Request) (fetcher.Response, error) {
	return fetcher.Response{StatusCode: int(s)}, nil
}

func TestFetchRejectsNon200(t *testing.T) {
	t.Parallel()

	_, err := Fetch(context.Background(), statusFetcher(503), "http://x", nil)
	require.ErrorContains(t, err, "unexpected status 503")

	_, err = Fetch(context.Background(), statusFetcher(200), "http://x", nil)
	require.NoError(t, err)
}
