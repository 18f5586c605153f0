package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-image-sourcer/internal/fetcher"
	collyfetcher "github.com/JakeFAU/catalog-image-sourcer/internal/fetcher/colly"
)

func TestSearchReadsLazyThumbnails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/images", r.URL.Path)
		assert.Equal(t, "green tea 500g", r.URL.Query().Get("p"))
		_, _ = w.Write([]byte(`<ul>
			<li><img data-src="https://s.yimg.com/a.jpg" alt="Green Tea 500g"></li>
			<li><img src="https://s.yimg.com/eager.jpg" alt="eager"></li>
			<li><img data-src="https://s.yimg.com/b.jpg"></li>
			<li><img data-src="https://s.yimg.com/c.jpg" alt="Tea tin"></li>
		</ul>`))
	}))
	t.Cleanup(srv.Close)

	f := collyfetcher.New(collyfetcher.Config{Timeout: time.Second}, nil)
	got, err := New(Config{BaseURL: srv.URL}, f, nil).Search(context.Background(), "green tea 500g")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://s.yimg.com/a.jpg", got[0].ImageURL)
	assert.Equal(t, "Green Tea 500g", got[0].Title)
	assert.Equal(t, "Tea tin", got[1].Title)
}

type failingFetcher struct{ err error }

func (f failingFetcher) Fetch(context.Context, fetcher.Request) (fetcher.Response, error) {
	return fetcher.Response{}, f.err
}

func TestSearchSwallowsTransportErrors(t *testing.T) {
	t.Parallel()

	got, err := New(Config{}, failingFetcher{err: context.DeadlineExceeded}, nil).Search(context.Background(), "tea")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchReturnsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}, failingFetcher{err: context.Canceled}, nil).Search(ctx, "tea")
	require.ErrorIs(t, err, context.Canceled)
}
