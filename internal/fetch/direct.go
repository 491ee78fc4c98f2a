package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/dci-apr-matrix/internal/model"
	"github.com/yourorg/dci-apr-matrix/internal/rotate"
	"github.com/yourorg/dci-apr-matrix/internal/sign"
)

// Provider endpoints. The time endpoint is unauthenticated; the listing
// endpoint requires a signed query.
const (
	serverTimePath  = "/api/v3/time"
	productListPath = "/sapi/v1/dci/product/list"
)

// Failure is a fetch-cycle abort: all hosts exhausted, or a page returned
// a non-success response. Partial pages are discarded.
type Failure struct {
	Stage string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("fetch failed at %s: %v", f.Stage, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Direct paginates the provider's product list endpoint through the host
// rotator, using one server timestamp for all pages of a fetch.
type Direct struct {
	rot        *rotate.Rotator
	signer     *sign.Builder
	pageSize   int
	maxPages   int
	recvWindow int64
}

// NewDirect creates a direct provider client. pageSize and maxPages fall
// back to the provider defaults (100, 3) when zero.
func NewDirect(rot *rotate.Rotator, signer *sign.Builder, pageSize, maxPages int, recvWindow int64) *Direct {
	if pageSize <= 0 {
		pageSize = 100
	}
	if maxPages <= 0 {
		maxPages = 3
	}
	if recvWindow <= 0 {
		recvWindow = 60000
	}
	return &Direct{
		rot:        rot,
		signer:     signer,
		pageSize:   pageSize,
		maxPages:   maxPages,
		recvWindow: recvWindow,
	}
}

// ServerTime obtains the provider's reference timestamp in milliseconds.
func (d *Direct) ServerTime(ctx context.Context) (int64, error) {
	body, _, err := d.rot.Get(ctx, serverTimePath, nil)
	if err != nil {
		return 0, err
	}

	var payload struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decoding server time: %w", err)
	}
	if payload.ServerTime == 0 {
		return 0, fmt.Errorf("server time missing from response")
	}
	return payload.ServerTime, nil
}

// FetchProducts retrieves every product matching the filter, paginating
// until a short page or the page cap. Any page failure aborts the whole
// fetch; no partial results are returned.
func (d *Direct) FetchProducts(ctx context.Context, f model.Filter) (*model.Batch, error) {
	ts, err := d.ServerTime(ctx)
	if err != nil {
		return nil, &Failure{Stage: "server time", Err: err}
	}

	var (
		out  []model.RawProduct
		host string
	)
	for idx := 1; idx <= d.maxPages; idx++ {
		page, servedBy, err := d.fetchPage(ctx, f, ts, idx)
		if err != nil {
			return nil, &Failure{Stage: fmt.Sprintf("page %d", idx), Err: err}
		}
		out = append(out, page...)
		host = servedBy
		if len(page) < d.pageSize {
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"filter":   f.Key(),
		"products": len(out),
		"host":     host,
	}).Debug("product fetch complete")

	return &model.Batch{Products: out, Host: host}, nil
}

// fetchPage issues one signed listing request through the rotator.
func (d *Direct) fetchPage(ctx context.Context, f model.Filter, ts int64, pageIndex int) ([]model.RawProduct, string, error) {
	params := map[string]string{
		"optionType":    f.OptionType,
		"exercisedCoin": f.ExercisedCoin,
		"investCoin":    f.InvestCoin,
		"pageSize":      strconv.Itoa(d.pageSize),
		"pageIndex":     strconv.Itoa(pageIndex),
	}
	qs := d.signer.SignedQuery(params, ts, d.recvWindow)

	body, host, err := d.rot.Get(ctx, productListPath+"?"+qs, d.signer.Headers())
	if err != nil {
		return nil, "", err
	}

	page, err := decodeProductPage(body)
	if err != nil {
		return nil, "", err
	}
	return page, host, nil
}

// decodeProductPage extracts the product slice from a listing response.
// The provider nests the page under "list" or, on some deployments,
// "data".
func decodeProductPage(body []byte) ([]model.RawProduct, error) {
	var payload struct {
		List []model.RawProduct `json:"list"`
		Data []model.RawProduct `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding product page: %w", err)
	}
	if payload.List != nil {
		return payload.List, nil
	}
	return payload.Data, nil
}
