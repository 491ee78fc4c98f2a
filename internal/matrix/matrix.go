// Package matrix turns a flat list of heterogeneous dual-investment
// products into a dense strike × duration grid of annualized yields.
package matrix

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/dci-apr-matrix/internal/model"
)

// unknownProductID stands in for products the provider listed without an
// identifier.
const unknownProductID = "n/a"

// Options configures normalization.
type Options struct {
	// MinAPRPercent drops products yielding less than this, in percent.
	MinAPRPercent float64

	// Durations is an explicit allow-set of day counts. Empty means all
	// observed durations are kept.
	Durations []int

	// MaxStrikes truncates the strike axis, dropping the lowest strikes.
	// Zero or negative means no truncation.
	MaxStrikes int

	// StrikePrecision is the number of decimals strikes are rounded to.
	StrikePrecision int32
}

// DefaultOptions mirrors the provider UI defaults.
func DefaultOptions() Options {
	return Options{
		MaxStrikes:      5,
		StrikePrecision: 2,
	}
}

// Diagnostics reports what normalization discarded, so callers and tests
// can assert on drop counts instead of relying on silent suppression.
type Diagnostics struct {
	// Total is the number of raw products examined.
	Total int

	// Malformed products were missing a required field or non-numeric.
	Malformed int

	// BelowThreshold products were valid but under MinAPRPercent.
	BelowThreshold int

	// Kept is the number of products that passed filtering and competed
	// for a cell.
	Kept int
}

// cellKey identifies a grid position. The strike is carried in canonical
// string form so 3000, 3000.0 and "3000.00" collapse to one key.
type cellKey struct {
	strike string
	days   int
}

type cellValue struct {
	apr       float64
	productID string
	strike    float64
}

// Normalize builds the yield grid from raw products.
//
// Products with a missing or malformed apr, strike or duration are dropped
// silently (counted in Diagnostics), never fatal to the batch. Within a
// (strike, duration) group the maximum APR wins; overwriting requires a
// strictly greater APR, so the first product seen keeps the cell on an
// exact tie.
func Normalize(products []model.RawProduct, opts Options) (model.Matrix, Diagnostics) {
	diag := Diagnostics{Total: len(products)}

	cells := make(map[cellKey]cellValue)
	for _, p := range products {
		if !p.APR.Valid || !p.StrikePrice.Valid || !p.Duration.Valid {
			diag.Malformed++
			continue
		}

		aprPct := round2(p.APR.Value * 100)
		if aprPct < opts.MinAPRPercent {
			diag.BelowThreshold++
			continue
		}

		strikeDec := decimal.NewFromFloat(p.StrikePrice.Value).Round(opts.StrikePrecision)
		key := cellKey{strike: strikeDec.String(), days: p.Duration.Value}

		pid := unknownProductID
		if p.ID.Valid {
			pid = p.ID.Value
		}

		if prev, ok := cells[key]; !ok || aprPct > prev.apr {
			cells[key] = cellValue{
				apr:       aprPct,
				productID: pid,
				strike:    strikeDec.InexactFloat64(),
			}
		}
		diag.Kept++
	}

	m := model.Matrix{
		Strikes: []float64{},
		Days:    []int{},
		Cells:   map[string]map[string]model.Cell{},
	}
	if len(cells) == 0 {
		logrus.WithFields(logrus.Fields{
			"total":     diag.Total,
			"malformed": diag.Malformed,
			"below_min": diag.BelowThreshold,
		}).Debug("normalization kept no products")
		return m, diag
	}

	m.Strikes = strikeAxis(cells, opts.MaxStrikes)
	m.Days = durationAxis(cells, opts.Durations)
	m.MaxAPR = maxAPR(cells)

	// Cells outside either axis are dropped even though they were
	// computed above.
	strikeSet := make(map[string]bool, len(m.Strikes))
	for _, s := range m.Strikes {
		strikeSet[strikeKey(s, opts.StrikePrecision)] = true
	}
	daySet := make(map[int]bool, len(m.Days))
	for _, d := range m.Days {
		daySet[d] = true
	}
	for key, v := range cells {
		if !strikeSet[key.strike] || !daySet[key.days] {
			continue
		}
		row, ok := m.Cells[key.strike]
		if !ok {
			row = map[string]model.Cell{}
			m.Cells[key.strike] = row
		}
		row[strconv.Itoa(key.days)] = model.Cell{APR: v.apr, ProductID: v.productID}
	}

	logrus.WithFields(logrus.Fields{
		"total":     diag.Total,
		"malformed": diag.Malformed,
		"below_min": diag.BelowThreshold,
		"strikes":   len(m.Strikes),
		"days":      len(m.Days),
		"max_apr":   m.MaxAPR,
	}).Debug("normalization complete")

	return m, diag
}

// StrikeKey returns the canonical string key for a strike value at the
// given precision. Exposed so the presentation layer addresses cells the
// same way the normalizer does.
func StrikeKey(strike float64, precision int32) string {
	return strikeKey(strike, precision)
}

func strikeKey(strike float64, precision int32) string {
	return decimal.NewFromFloat(strike).Round(precision).String()
}

// strikeAxis collects distinct strikes descending, truncated to maxStrikes.
func strikeAxis(cells map[cellKey]cellValue, maxStrikes int) []float64 {
	seen := make(map[string]float64)
	for key, v := range cells {
		seen[key.strike] = v.strike
	}
	strikes := make([]float64, 0, len(seen))
	for _, s := range seen {
		strikes = append(strikes, s)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(strikes)))
	if maxStrikes > 0 && len(strikes) > maxStrikes {
		strikes = strikes[:maxStrikes]
	}
	return strikes
}

// durationAxis returns the ascending duration axis: the allow-set
// intersected with observed durations when supplied, otherwise all
// observed durations.
func durationAxis(cells map[cellKey]cellValue, allowed []int) []int {
	observed := make(map[int]bool)
	for key := range cells {
		observed[key.days] = true
	}

	var days []int
	if len(allowed) > 0 {
		seen := make(map[int]bool)
		for _, d := range allowed {
			if observed[d] && !seen[d] {
				days = append(days, d)
				seen[d] = true
			}
		}
	} else {
		for d := range observed {
			days = append(days, d)
		}
	}
	sort.Ints(days)
	if days == nil {
		days = []int{}
	}
	return days
}

// maxAPR is the maximum over every kept cell, including cells later
// dropped by axis truncation.
func maxAPR(cells map[cellKey]cellValue) float64 {
	var max float64
	for _, v := range cells {
		if v.apr > max {
			max = v.apr
		}
	}
	return max
}

// round2 rounds a percentage to 2 decimals.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
