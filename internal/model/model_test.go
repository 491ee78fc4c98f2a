package model

import (
	"encoding/json"
	"testing"
)

func TestRawProductDecodeTolerant(t *testing.T) {
	tests := []struct {
		name string
		body string
		want RawProduct
	}{
		{
			name: "numeric fields",
			body: `{"apr":0.12,"strikePrice":3000,"duration":7,"id":741969}`,
			want: RawProduct{
				APR:         Float(0.12),
				StrikePrice: Float(3000),
				Duration:    Int(7),
				ID:          String("741969"),
			},
		},
		{
			name: "string-typed numbers",
			body: `{"apr":"0.12","strikePrice":"3000.5","duration":"7","id":"p-1"}`,
			want: RawProduct{
				APR:         Float(0.12),
				StrikePrice: Float(3000.5),
				Duration:    Int(7),
				ID:          String("p-1"),
			},
		},
		{
			name: "missing strike",
			body: `{"apr":0.12,"duration":7,"id":"x"}`,
			want: RawProduct{
				APR:      Float(0.12),
				Duration: Int(7),
				ID:       String("x"),
			},
		},
		{
			name: "garbage apr does not fail decode",
			body: `{"apr":"abc","strikePrice":3000,"duration":7,"id":"x"}`,
			want: RawProduct{
				StrikePrice: Float(3000),
				Duration:    Int(7),
				ID:          String("x"),
			},
		},
		{
			name: "null fields stay unset",
			body: `{"apr":null,"strikePrice":null,"duration":null,"id":null}`,
			want: RawProduct{},
		},
		{
			name: "integral float duration",
			body: `{"apr":0.1,"strikePrice":100,"duration":7.0,"id":"x"}`,
			want: RawProduct{
				APR:         Float(0.1),
				StrikePrice: Float(100),
				Duration:    Int(7),
				ID:          String("x"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got RawProduct
			if err := json.Unmarshal([]byte(tt.body), &got); err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRawProductDecodeInsideList(t *testing.T) {
	body := `{"list":[{"apr":0.1,"strikePrice":3000,"duration":7,"id":"a"},{"apr":{"nested":true},"strikePrice":3000,"duration":7,"id":"b"}]}`

	var payload struct {
		List []RawProduct `json:"list"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("one malformed product must not fail the page: %v", err)
	}
	if len(payload.List) != 2 {
		t.Fatalf("expected 2 products, got %d", len(payload.List))
	}
	if !payload.List[0].APR.Valid {
		t.Error("first product apr should be set")
	}
	if payload.List[1].APR.Valid {
		t.Error("nested-object apr should decode as unset")
	}
}

func TestFilterKey(t *testing.T) {
	f := Filter{OptionType: "PUT", ExercisedCoin: "ETH", InvestCoin: "USDT"}
	if f.Key() != "PUT|ETH|USDT" {
		t.Errorf("unexpected key %q", f.Key())
	}
}

func TestMatrixLookup(t *testing.T) {
	m := Matrix{
		Strikes: []float64{3000},
		Days:    []int{7},
		Cells: map[string]map[string]Cell{
			"3000": {"7": {APR: 15.0, ProductID: "b"}},
		},
		MaxAPR: 15.0,
	}

	cell, ok := m.Lookup("3000", 7)
	if !ok {
		t.Fatal("expected cell present")
	}
	if cell.APR != 15.0 || cell.ProductID != "b" {
		t.Errorf("unexpected cell %+v", cell)
	}

	if _, ok := m.Lookup("3000", 14); ok {
		t.Error("expected miss for absent day")
	}

	var zero Matrix
	if !zero.Empty() {
		t.Error("zero matrix should be empty")
	}
}
