package randx

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectFromDistribution_Converges(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	dist := []Weighted[int]{{Item: 1, P: 0.5}, {Item: 2, P: 0.5}}
	counts := map[int]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		v, err := SelectFromDistribution(r, dist)
		require.NoError(t, err)
		counts[v]++
	}
	assert.Len(t, counts, 2)
	assert.InDelta(t, 0.5, float64(counts[1])/n, 0.02)
	assert.InDelta(t, 0.5, float64(counts[2])/n, 0.02)
}

func TestSelectFromDistribution_Errors(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	_, err := SelectFromDistribution(r, []Weighted[string]{})
	assert.ErrorIs(t, err, ErrNotDistribution)

	// Excess mass is ignored: the first item always wins.
	for i := 0; i < 100; i++ {
		v, err := SelectFromDistribution(r, []Weighted[string]{{Item: "a", P: 1.5}, {Item: "b", P: 1}})
		require.NoError(t, err)
		assert.Equal(t, "a", v)
	}
}

func TestNormalize(t *testing.T) {
	out, err := Normalize([]Weighted[string]{{Item: "a", P: 1}, {Item: "b", P: 3}})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, out[0].P, 1e-12)
	assert.InDelta(t, 0.75, out[1].P, 1e-12)

	_, err = Normalize([]Weighted[string]{{Item: "a", P: 0}})
	assert.ErrorIs(t, err, ErrNotDistribution)
	_, err = Normalize([]Weighted[string]{{Item: "a", P: -1}, {Item: "b", P: 2}})
	assert.ErrorIs(t, err, ErrNotDistribution)
}

func TestFlipRandom(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	assert.False(t, FlipRandom(r, 0))
	assert.True(t, FlipRandom(r, 1))
	heads := 0
	for i := 0; i < 10000; i++ {
		if FlipRandom(r, 0.3) {
			heads++
		}
	}
	assert.InDelta(t, 0.3, float64(heads)/10000, 0.03)
}

func TestArgMax(t *testing.T) {
	cases := []struct {
		Name string
		In   []Scored[string]
		Want []string
	}{
		{"empty", nil, nil},
		{"single", []Scored[string]{{"a", 1}}, []string{"a"}},
		{"ties keep order", []Scored[string]{{"a", 5}, {"b", 11}, {"c", 11}, {"d", 7}}, []string{"b", "c"}},
		{"negative", []Scored[string]{{"a", -3}, {"b", -1}}, []string{"b"}},
	}
	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			assert.Equal(t, c.Want, ArgMaxAll(c.In))
		})
	}

	r := rand.New(rand.NewSource(11))
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		v, ok := ArgMaxRandom(r, []Scored[string]{{"a", 5}, {"b", 11}, {"c", 11}})
		require.True(t, ok)
		seen[v] = true
	}
	assert.Equal(t, map[string]bool{"b": true, "c": true}, seen)

	assert.Equal(t, 4, ArgMax(r, []float64{1, 4, 5, 12, 78}))
	assert.Equal(t, -1, ArgMax(r, nil))
}
