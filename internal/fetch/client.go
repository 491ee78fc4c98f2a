// Package fetch retrieves dual-investment product listings, either
// directly from the provider's mirrored hosts or through an intermediary
// aggregation service.
package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/yourorg/dci-apr-matrix/internal/model"
)

// Provider is anything that can produce a batch of products for a filter.
type Provider interface {
	FetchProducts(ctx context.Context, f model.Filter) (*model.Batch, error)
}

// NewHTTPClient builds the HTTP client used for all provider traffic.
// Retries happen inside a single host attempt only, so host rotation
// stays deterministic; anything the retry layer gives up on is handed to
// the rotator as that host's failure.
func NewHTTPClient(timeout time.Duration) *http.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 250 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = nil

	// 451 is a rotation signal, not a retryable condition.
	base := c.CheckRetry
	c.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusUnavailableForLegalReasons {
			return false, nil
		}
		if base != nil {
			return base(ctx, resp, err)
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return c.StandardClient()
}
