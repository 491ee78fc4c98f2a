// Package model defines the core data structures for the dual-investment APR matrix adapter.
package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// RawProduct is a single dual-investment listing as returned by the provider.
// Every field arrives untrusted: the provider mixes numbers and numeric
// strings, and any field may be absent. Malformed fields decode as unset
// instead of failing the whole page; the normalizer drops incomplete
// products.
type RawProduct struct {
	// APR is the annualized yield as a fraction, e.g. 0.12 for 12%.
	APR OptFloat `json:"apr"`

	// StrikePrice is the settlement threshold of the product.
	StrikePrice OptFloat `json:"strikePrice"`

	// Duration is the contract length in days.
	Duration OptInt `json:"duration"`

	// ID is the provider's opaque product identifier.
	ID OptString `json:"id"`
}

// OptFloat is a float64 that may be missing or malformed on the wire.
type OptFloat struct {
	Value float64
	Valid bool
}

// Float returns a set OptFloat, mostly useful in tests and fixtures.
func Float(v float64) OptFloat { return OptFloat{Value: v, Valid: true} }

// UnmarshalJSON accepts a JSON number or a quoted numeric string.
// Anything else leaves the field unset without raising an error.
func (f *OptFloat) UnmarshalJSON(b []byte) error {
	*f = OptFloat{}
	s := unquote(b)
	if s == "" || s == "null" {
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = OptFloat{Value: v, Valid: true}
	}
	return nil
}

// MarshalJSON renders unset values as null.
func (f OptFloat) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// OptInt is an integer that may be missing or malformed on the wire.
type OptInt struct {
	Value int
	Valid bool
}

// Int returns a set OptInt.
func Int(v int) OptInt { return OptInt{Value: v, Valid: true} }

// UnmarshalJSON accepts a JSON integer or a quoted integer string.
func (i *OptInt) UnmarshalJSON(b []byte) error {
	*i = OptInt{}
	s := unquote(b)
	if s == "" || s == "null" {
		return nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		*i = OptInt{Value: v, Valid: true}
		return nil
	}
	// Some endpoints report integral values as floats ("7.0").
	if v, err := strconv.ParseFloat(s, 64); err == nil && v == float64(int(v)) {
		*i = OptInt{Value: int(v), Valid: true}
	}
	return nil
}

// MarshalJSON renders unset values as null.
func (i OptInt) MarshalJSON() ([]byte, error) {
	if !i.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(i.Value)
}

// OptString is a string that may be missing; numeric identifiers are
// accepted and kept in their string form.
type OptString struct {
	Value string
	Valid bool
}

// String returns a set OptString.
func String(v string) OptString { return OptString{Value: v, Valid: true} }

// UnmarshalJSON accepts a JSON string or a bare number.
func (s *OptString) UnmarshalJSON(b []byte) error {
	*s = OptString{}
	raw := bytes.TrimSpace(b)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var v string
		if err := json.Unmarshal(raw, &v); err == nil {
			*s = OptString{Value: v, Valid: true}
		}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		*s = OptString{Value: n.String(), Valid: true}
	}
	return nil
}

// MarshalJSON renders unset values as null.
func (s OptString) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(s.Value)
}

// unquote strips surrounding quotes and whitespace from a raw JSON scalar.
func unquote(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// Filter selects which product listings a fetch targets.
type Filter struct {
	// OptionType is PUT or CALL.
	OptionType string `json:"optionType"`

	// ExercisedCoin is the asset the option exercises into, e.g. ETH.
	ExercisedCoin string `json:"exercisedCoin"`

	// InvestCoin is the deposited asset, e.g. USDT.
	InvestCoin string `json:"investCoin"`
}

// Key returns a stable cache key for the filter.
func (f Filter) Key() string {
	return f.OptionType + "|" + f.ExercisedCoin + "|" + f.InvestCoin
}

// Batch is the result of one product fetch. The direct provider always
// returns raw products; the intermediary may instead return a pre-built
// matrix, in which case Matrix is set and Products is empty.
type Batch struct {
	Products []RawProduct

	// Matrix is set when the serving endpoint returned an already
	// normalized grid.
	Matrix *Matrix

	// Host is the base host that ultimately served the data.
	Host string
}

// Cell holds the winning product for one (strike, duration) grid position.
type Cell struct {
	// APR as a percentage, rounded to 2 decimals.
	APR float64 `json:"apr"`

	// ProductID identifies the product that produced the winning APR.
	ProductID string `json:"pid"`
}

// Matrix is the strike × duration yield grid.
//
// Strikes are sorted descending and truncated to the configured maximum;
// Days are sorted ascending. Cells is keyed by the canonical strike string
// and then by the day count, and only contains positions whose strike and
// duration both survived axis construction.
type Matrix struct {
	Strikes []float64                  `json:"strikes"`
	Days    []int                      `json:"days"`
	Cells   map[string]map[string]Cell `json:"cells"`
	MaxAPR  float64                    `json:"max_apr"`
}

// Lookup returns the cell for a strike key and day, if present.
func (m Matrix) Lookup(strikeKey string, day int) (Cell, bool) {
	row, ok := m.Cells[strikeKey]
	if !ok {
		return Cell{}, false
	}
	c, ok := row[strconv.Itoa(day)]
	return c, ok
}

// Empty reports whether the matrix has no retained cells.
func (m Matrix) Empty() bool {
	return len(m.Strikes) == 0 && len(m.Days) == 0
}
