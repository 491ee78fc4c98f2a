// Package service exposes the one core call of the adapter: filter
// parameters in, yield matrix plus serving host out.
package service

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/dci-apr-matrix/internal/failover"
	"github.com/yourorg/dci-apr-matrix/internal/fetch"
	"github.com/yourorg/dci-apr-matrix/internal/matrix"
	"github.com/yourorg/dci-apr-matrix/internal/model"
	"github.com/yourorg/dci-apr-matrix/internal/otel"
)

// Params are the caller-supplied knobs for one matrix request.
type Params struct {
	Filter model.Filter

	// MinAPRPercent drops products below this yield, in percent.
	MinAPRPercent float64

	// Durations is an optional explicit duration allow-set in days.
	Durations []int

	// MaxStrikes truncates the strike axis; zero means no truncation.
	MaxStrikes int
}

// Result is the matrix together with how it was obtained.
type Result struct {
	Matrix model.Matrix `json:"matrix"`

	// Host that ultimately served the data.
	Host string `json:"host"`

	// Cached reports the request was satisfied without a fresh fetch.
	Cached bool `json:"cached"`

	// Prebuilt reports the intermediary returned an already normalized
	// grid, so the local normalizer did not run.
	Prebuilt bool `json:"prebuilt"`

	// Dropped and BelowThreshold are the normalizer's diagnostics.
	Dropped        int `json:"dropped"`
	BelowThreshold int `json:"below_threshold"`
}

// Service runs the fetch-and-normalize pipeline: cache, breaker-selected
// provider, normalizer. Only fetch failures cross this boundary; per-host
// rejections and malformed records are absorbed below it.
type Service struct {
	direct       fetch.Provider
	intermediary fetch.Provider
	cache        *fetch.Cache
	breaker      *failover.Breaker
	precision    int32
}

// New wires the pipeline. intermediary may be nil; the breaker then only
// gates retry pacing against the direct provider.
func New(direct fetch.Provider, intermediary fetch.Provider, cache *fetch.Cache, breaker *failover.Breaker, strikePrecision int32) *Service {
	if strikePrecision <= 0 {
		strikePrecision = 2
	}
	if breaker == nil {
		breaker = failover.New(0, 0)
	}
	return &Service{
		direct:       direct,
		intermediary: intermediary,
		cache:        cache,
		breaker:      breaker,
		precision:    strikePrecision,
	}
}

// Matrix produces the yield grid for the given parameters.
func (s *Service) Matrix(ctx context.Context, p Params) (*Result, error) {
	ctx, span := otel.Tracer().Start(ctx, "service.Matrix")
	defer span.End()

	batch, cached, err := s.cache.GetOrFetch(p.Filter.Key(), func() (*model.Batch, error) {
		return s.fetchBatch(ctx, p.Filter)
	})
	if err != nil {
		otel.RecordError(ctx, err)
		return nil, err
	}

	res := &Result{Host: batch.Host, Cached: cached}

	if batch.Matrix != nil {
		res.Matrix = *batch.Matrix
		res.Prebuilt = true
		return res, nil
	}

	m, diag := matrix.Normalize(batch.Products, matrix.Options{
		MinAPRPercent:   p.MinAPRPercent,
		Durations:       p.Durations,
		MaxStrikes:      p.MaxStrikes,
		StrikePrecision: s.precision,
	})
	res.Matrix = m
	res.Dropped = diag.Malformed
	res.BelowThreshold = diag.BelowThreshold
	return res, nil
}

// fetchBatch picks the provider path. The direct provider is preferred;
// consecutive failures open the breaker and route to the intermediary
// until a probe succeeds. With no intermediary configured the direct
// error propagates as-is.
func (s *Service) fetchBatch(ctx context.Context, f model.Filter) (*model.Batch, error) {
	if s.intermediary == nil {
		return s.direct.FetchProducts(ctx, f)
	}

	if s.breaker.AllowDirect() {
		batch, err := s.direct.FetchProducts(ctx, f)
		if err == nil {
			s.breaker.Success()
			return batch, nil
		}
		s.breaker.Failure()
		logrus.WithError(err).Warn("direct fetch failed, falling back to intermediary")
	}

	return s.intermediary.FetchProducts(ctx, f)
}

// BreakerState reports the failover state for observability surfaces.
func (s *Service) BreakerState() failover.State {
	return s.breaker.State()
}
