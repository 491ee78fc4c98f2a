package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/dci-apr-matrix/internal/model"
	"github.com/yourorg/dci-apr-matrix/internal/rotate"
	"github.com/yourorg/dci-apr-matrix/internal/sign"
)

const fakeServerTime = int64(1690000000000)

// fakeProvider simulates the provider API: the time endpoint plus a
// paginated product listing driven by a per-page script.
type fakeProvider struct {
	t *testing.T

	mu         sync.Mutex
	timestamps []string
	pageHits   []int

	// pages maps pageIndex to the products to return; absent pages
	// answer with an empty list. failPage, when non-zero, answers that
	// page with HTTP 500.
	pages    map[int][]string
	failPage int
}

func (p *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/time", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"serverTime":%d}`, fakeServerTime)
	})
	mux.HandleFunc("/sapi/v1/dci/product/list", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		idx, err := strconv.Atoi(q.Get("pageIndex"))
		if err != nil {
			p.t.Errorf("bad pageIndex %q", q.Get("pageIndex"))
		}

		p.mu.Lock()
		p.timestamps = append(p.timestamps, q.Get("timestamp"))
		p.pageHits = append(p.pageHits, idx)
		fail := p.failPage != 0 && idx == p.failPage
		products := p.pages[idx]
		p.mu.Unlock()

		if q.Get("signature") == "" {
			p.t.Error("listing request missing signature")
		}
		if r.Header.Get(sign.HeaderAPIKey) == "" {
			p.t.Error("listing request missing API key header")
		}

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		fmt.Fprint(w, `{"list":[`)
		for i, prod := range products {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprint(w, prod)
		}
		fmt.Fprint(w, `]}`)
	})
	return mux
}

func newDirectFixture(t *testing.T, p *fakeProvider, pageSize, maxPages int) *Direct {
	t.Helper()
	srv := httptest.NewServer(p.handler())
	t.Cleanup(srv.Close)

	client := &http.Client{Timeout: 5 * time.Second}
	rot := rotate.New([]string{srv.URL}, client)
	signer := sign.New("test-key", "test-secret")
	return NewDirect(rot, signer, pageSize, maxPages, 60000)
}

func testProducts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf(`{"apr":0.1,"strikePrice":%d,"duration":7,"id":"p%d"}`, 3000-i*100, i)
	}
	return out
}

func TestDirectStopsOnShortPage(t *testing.T) {
	p := &fakeProvider{t: t, pages: map[int][]string{
		1: testProducts(2),
		2: testProducts(1),
	}}
	d := newDirectFixture(t, p, 2, 3)

	batch, err := d.FetchProducts(context.Background(), model.Filter{
		OptionType: "PUT", ExercisedCoin: "ETH", InvestCoin: "USDT",
	})
	require.NoError(t, err)

	assert.Len(t, batch.Products, 3)
	assert.Equal(t, []int{1, 2}, p.pageHits, "short second page ends pagination")
	assert.NotEmpty(t, batch.Host)
}

func TestDirectStopsAtPageCap(t *testing.T) {
	p := &fakeProvider{t: t, pages: map[int][]string{
		1: testProducts(2),
		2: testProducts(2),
		3: testProducts(2),
		4: testProducts(2),
	}}
	d := newDirectFixture(t, p, 2, 3)

	batch, err := d.FetchProducts(context.Background(), model.Filter{OptionType: "PUT"})
	require.NoError(t, err)

	assert.Len(t, batch.Products, 6)
	assert.Equal(t, []int{1, 2, 3}, p.pageHits, "page cap bounds the walk even with full pages")
}

func TestDirectSharesOneTimestampAcrossPages(t *testing.T) {
	p := &fakeProvider{t: t, pages: map[int][]string{
		1: testProducts(2),
		2: testProducts(2),
	}}
	d := newDirectFixture(t, p, 2, 3)

	_, err := d.FetchProducts(context.Background(), model.Filter{OptionType: "CALL"})
	require.NoError(t, err)

	require.Len(t, p.timestamps, 3)
	want := strconv.FormatInt(fakeServerTime, 10)
	for i, ts := range p.timestamps {
		assert.Equal(t, want, ts, "page %d must reuse the fetch's server time", i+1)
	}
}

func TestDirectAbortsOnPageFailure(t *testing.T) {
	p := &fakeProvider{t: t, failPage: 2, pages: map[int][]string{
		1: testProducts(2),
		2: testProducts(2),
	}}
	d := newDirectFixture(t, p, 2, 3)

	batch, err := d.FetchProducts(context.Background(), model.Filter{OptionType: "PUT"})
	require.Error(t, err)
	assert.Nil(t, batch, "partial pages are never returned")

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "page 2", failure.Stage)

	var exhausted *rotate.ExhaustedError
	assert.True(t, errors.As(err, &exhausted), "rotator detail survives wrapping")
}

func TestDirectServerTimeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnavailableForLegalReasons)
	}))
	defer srv.Close()

	rot := rotate.New([]string{srv.URL}, &http.Client{Timeout: 5 * time.Second})
	d := NewDirect(rot, sign.New("k", "s"), 100, 3, 60000)

	_, err := d.FetchProducts(context.Background(), model.Filter{OptionType: "PUT"})
	require.Error(t, err)

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "server time", failure.Stage)
}

func TestDecodeProductPage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"list key", `{"list":[{"apr":0.1},{"apr":0.2}]}`, 2},
		{"data key", `{"data":[{"apr":0.1}]}`, 1},
		{"empty list", `{"list":[]}`, 0},
		{"neither key", `{"total":0}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := decodeProductPage([]byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(page) != tt.want {
				t.Errorf("got %d products, want %d", len(page), tt.want)
			}
		})
	}

	if _, err := decodeProductPage([]byte("not json")); err == nil {
		t.Error("expected error for malformed body")
	}
}
