package locations

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"wallnav.ai/internal/geom"
)

// Entry is one named location.
type Entry struct {
	Name string  `json:"name" yaml:"name"`
	X    float64 `json:"x" yaml:"x"`
	Y    float64 `json:"y" yaml:"y"`
}

func (e Entry) Point() geom.Point { return geom.Point{X: e.X, Y: e.Y} }

// Defaults is the office layout the robot was first built for.
func Defaults() []Entry {
	return []Entry{
		{Name: "mail", X: -5, Y: 10},
		{Name: "o103", X: 50, Y: 100},
		{Name: "o109", X: 100, Y: 10},
		{Name: "storage", X: 101, Y: 51},
	}
}

// Table maps location names to points. It is shared by the top layer,
// the observer and the file watcher, so every access takes the lock.
// Names keep insertion order.
type Table struct {
	mu      sync.RWMutex
	names   []string
	at      map[string]geom.Point
	version uint64
}

func NewTable(entries []Entry) (*Table, error) {
	t := &Table{at: map[string]geom.Point{}}
	if err := t.Replace(entries); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) Lookup(name string) (geom.Point, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.at[name]
	return p, ok
}

// Set adds name or moves it to p.
func (t *Table) Set(name string, p geom.Point) error {
	if err := validateEntry(Entry{Name: name, X: p.X, Y: p.Y}); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.at[name]; !ok {
		t.names = append(t.names, name)
	}
	t.at[name] = p
	t.version++
	return nil
}

// Update moves an existing name to p. It reports false when name is not in
// the table.
func (t *Table) Update(name string, p geom.Point) (bool, error) {
	if err := validateEntry(Entry{Name: name, X: p.X, Y: p.Y}); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.at[name]; !ok {
		return false, nil
	}
	t.at[name] = p
	t.version++
	return true, nil
}

func (t *Table) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.at[name]; !ok {
		return false
	}
	delete(t.at, name)
	for i, n := range t.names {
		if n == name {
			t.names = append(t.names[:i], t.names[i+1:]...)
			break
		}
	}
	t.version++
	return true
}

func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.names...)
}

func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.names))
	for _, n := range t.names {
		p := t.at[n]
		out = append(out, Entry{Name: n, X: p.X, Y: p.Y})
	}
	return out
}

// Replace swaps the whole table atomically. On error the table is unchanged.
func (t *Table) Replace(entries []Entry) error {
	if err := ValidateEntries(entries); err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	at := make(map[string]geom.Point, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
		at[e.Name] = e.Point()
	}
	t.mu.Lock()
	t.names, t.at = names, at
	t.version++
	t.mu.Unlock()
	return nil
}

// Version increases on every change.
func (t *Table) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}

func ValidateEntries(entries []Entry) error {
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if err := validateEntry(e); err != nil {
			return fmt.Errorf("locations[%d]: %w", i, err)
		}
		if seen[e.Name] {
			return fmt.Errorf("locations[%d]: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}

func validateEntry(e Entry) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("location name is empty")
	}
	if math.IsNaN(e.X) || math.IsNaN(e.Y) || math.IsInf(e.X, 0) || math.IsInf(e.Y, 0) {
		return fmt.Errorf("location %q has non-finite coordinates", e.Name)
	}
	return nil
}
