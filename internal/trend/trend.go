// Package trend tracks the previous APR observed per product so the
// presentation layer can render direction arrows.
package trend

import (
	"sync"

	"github.com/yourorg/dci-apr-matrix/internal/model"
)

// Directions values.
const (
	Up   = "up"
	Down = "down"
	Flat = "flat"
	New  = "new"
)

// Tracker remembers the last APR seen for each product id. State survives
// render cycles but not the process; last-writer-wins is fine under the
// serial request pattern.
type Tracker struct {
	mu   sync.Mutex
	prev map[string]float64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{prev: make(map[string]float64)}
}

// Directions compares every cell in the matrix against the previous
// observation of its product and returns a direction per product id,
// updating the history as it goes.
func (t *Tracker) Directions(m model.Matrix) map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]string)
	for _, row := range m.Cells {
		for _, cell := range row {
			prev, seen := t.prev[cell.ProductID]
			switch {
			case !seen:
				out[cell.ProductID] = New
			case cell.APR > prev:
				out[cell.ProductID] = Up
			case cell.APR < prev:
				out[cell.ProductID] = Down
			default:
				out[cell.ProductID] = Flat
			}
			t.prev[cell.ProductID] = cell.APR
		}
	}
	return out
}

// Reset clears the history.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.prev = make(map[string]float64)
	t.mu.Unlock()
}
