package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/dci-apr-matrix/internal/model"
)

// Intermediary consults a secondary aggregation service instead of the
// provider directly. The service accepts the same filter parameters and
// answers with either a pre-built matrix or a raw product list; both
// shapes are accepted transparently.
type Intermediary struct {
	baseURL    string
	httpClient *http.Client
}

// NewIntermediary creates a client for the aggregation service at baseURL.
func NewIntermediary(baseURL string, client *http.Client) *Intermediary {
	return &Intermediary{baseURL: baseURL, httpClient: client}
}

// FetchProducts queries the intermediary for the filter. When the service
// returns a grid, Batch.Matrix is set and Products stays empty.
func (c *Intermediary) FetchProducts(ctx context.Context, f model.Filter) (*model.Batch, error) {
	q := url.Values{}
	q.Set("optionType", f.OptionType)
	q.Set("exercisedCoin", f.ExercisedCoin)
	q.Set("investCoin", f.InvestCoin)

	reqURL := c.baseURL + "/matrix?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &Failure{Stage: "intermediary request", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Failure{Stage: "intermediary", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Failure{Stage: "intermediary", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Failure{
			Stage: "intermediary",
			Err:   fmt.Errorf("status %d, body: %s", resp.StatusCode, truncateBody(body)),
		}
	}

	batch, err := decodeIntermediary(body)
	if err != nil {
		return nil, &Failure{Stage: "intermediary", Err: err}
	}
	batch.Host = c.baseURL

	logrus.WithFields(logrus.Fields{
		"filter":   f.Key(),
		"prebuilt": batch.Matrix != nil,
		"products": len(batch.Products),
	}).Debug("intermediary fetch complete")

	return batch, nil
}

// decodeIntermediary sniffs which of the two response shapes arrived: a
// bare array or an object with "list"/"data" is a raw product page; an
// object with "strikes" and "cells" is a pre-built matrix.
func decodeIntermediary(body []byte) (*model.Batch, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty intermediary response")
	}

	if trimmed[0] == '[' {
		var products []model.RawProduct
		if err := json.Unmarshal(trimmed, &products); err != nil {
			return nil, fmt.Errorf("decoding product array: %w", err)
		}
		return &model.Batch{Products: products}, nil
	}

	var probe struct {
		Strikes json.RawMessage    `json:"strikes"`
		Cells   json.RawMessage    `json:"cells"`
		List    []model.RawProduct `json:"list"`
		Data    []model.RawProduct `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, fmt.Errorf("decoding intermediary response: %w", err)
	}

	if probe.Strikes != nil && probe.Cells != nil {
		var m model.Matrix
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, fmt.Errorf("decoding pre-built matrix: %w", err)
		}
		return &model.Batch{Matrix: &m}, nil
	}
	if probe.List != nil {
		return &model.Batch{Products: probe.List}, nil
	}
	if probe.Data != nil {
		return &model.Batch{Products: probe.Data}, nil
	}

	return nil, fmt.Errorf("unrecognized intermediary response shape")
}

func truncateBody(b []byte) string {
	const limit = 300
	if len(b) > limit {
		b = b[:limit]
	}
	return string(b)
}
