package locations

import (
	"math"
	"sync"

	"wallnav.ai/internal/geom"
)

const DefaultEpsilon = 2.5

// Drag moves locations around with press/move/release gestures from an
// observer. At most one location is held at a time.
type Drag struct {
	mu      sync.Mutex
	table   *Table
	eps     float64
	held    string
	holding bool
}

func NewDrag(table *Table, eps float64) *Drag {
	if eps <= 0 || math.IsNaN(eps) {
		eps = DefaultEpsilon
	}
	return &Drag{table: table, eps: eps}
}

func (d *Drag) Epsilon() float64 { return d.eps }

// Press picks up the location within eps of (x,y) on both axes. When
// several qualify the nearest one wins.
func (d *Drag) Press(x, y float64) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	at := geom.Point{X: x, Y: y}
	best, bestD := "", math.Inf(1)
	for _, e := range d.table.Entries() {
		if math.Abs(e.X-x) > d.eps || math.Abs(e.Y-y) > d.eps {
			continue
		}
		if dd := at.DistSq(e.Point()); dd < bestD {
			best, bestD = e.Name, dd
		}
	}
	d.held, d.holding = best, best != ""
	return d.held, d.holding
}

// Move relocates the held location. It is a no-op when nothing is held. A
// hold on a name that has left the table is dropped.
func (d *Drag) Move(x, y float64) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.holding {
		return "", false
	}
	name := d.held
	ok, err := d.table.Update(name, geom.Point{X: x, Y: y})
	if err != nil {
		return name, false
	}
	if !ok {
		d.held, d.holding = "", false
		return name, false
	}
	return name, true
}

// Release drops the held location at (x,y).
func (d *Drag) Release(x, y float64) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.holding {
		return "", false
	}
	name := d.held
	d.held, d.holding = "", false
	if ok, err := d.table.Update(name, geom.Point{X: x, Y: y}); err != nil || !ok {
		return name, false
	}
	return name, true
}

func (d *Drag) Held() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held, d.holding
}
