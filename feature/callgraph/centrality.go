package callgraph

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/path"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

// Kind selects a centrality measure.
type Kind string

const (
	Degree    Kind = "degree"
	Katz      Kind = "katz"
	Closeness Kind = "closeness"
	Harmonic  Kind = "harmonic"
)

// Katz iteration parameters.
const (
	KatzAlpha   = 0.1
	KatzBeta    = 1.0
	katzMaxIter = 1000
	katzTol     = 1e-6
)

// ParseKind validates a centrality name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Degree, Katz, Closeness, Harmonic:
		return k, nil
	default:
		return "", errors.NewConfigurationError("ParseKind", "centrality",
			fmt.Sprintf("unknown centrality %q, want degree, katz, closeness or harmonic", s))
	}
}

// Centrality computes kind for every method of c, keyed by method name.
func (c *CallGraph) Centrality(kind Kind) (map[string]float64, error) {
	var byID map[int64]float64
	switch kind {
	case Degree:
		byID = c.degree()
	case Katz:
		var err error
		if byID, err = c.katz(); err != nil {
			return nil, err
		}
	case Closeness:
		byID = c.closeness(path.DijkstraAllPaths(c.g))
	case Harmonic:
		byID = network.Harmonic(c.g, path.DijkstraAllPaths(c.g))
	default:
		_, err := ParseKind(string(kind))
		return nil, err
	}

	out := make(map[string]float64, len(c.ids))
	for name, id := range c.ids {
		out[name] = byID[id]
	}
	return out, nil
}

// degree is (in + out) / (n - 1). Undirected graphs store both directions so
// only one side is counted.
func (c *CallGraph) degree() map[int64]float64 {
	n := c.Len()
	out := make(map[int64]float64, n)
	for _, id := range c.ids {
		out[id] = 1
	}
	if n <= 1 {
		return out
	}
	scale := 1 / float64(n-1)
	for _, id := range c.ids {
		d := c.g.From(id).Len()
		if !c.undirected {
			d += c.g.To(id).Len()
		}
		out[id] = float64(d) * scale
	}
	return out
}

// closeness uses incoming distances and the Wasserman-Faust correction for
// graphs that are not strongly connected.
func (c *CallGraph) closeness(paths path.AllShortest) map[int64]float64 {
	n := c.Len()
	out := make(map[int64]float64, n)
	for _, v := range c.ids {
		var total float64
		reached := 0
		for _, u := range c.ids {
			if u == v {
				continue
			}
			if d := paths.Weight(u, v); !math.IsInf(d, 1) {
				total += d
				reached++
			}
		}
		if total > 0 && n > 1 {
			r := float64(reached)
			out[v] = (r / total) * (r / float64(n-1))
		}
	}
	return out
}

// katz runs the power iteration x = alpha * A^T x + beta and normalizes the
// result to unit length.
func (c *CallGraph) katz() (map[int64]float64, error) {
	n := c.Len()
	if n == 0 {
		return map[int64]float64{}, nil
	}
	ids := make([]int64, 0, n)
	pos := make(map[int64]int, n)
	for _, id := range c.ids {
		pos[id] = len(ids)
		ids = append(ids, id)
	}
	incoming := make([][]int, n)
	for i, id := range ids {
		from := c.g.To(id)
		for from.Next() {
			incoming[i] = append(incoming[i], pos[from.Node().ID()])
		}
	}

	x := make([]float64, n)
	last := make([]float64, n)
	for iter := 0; iter < katzMaxIter; iter++ {
		copy(last, x)
		for i := range x {
			var s float64
			for _, j := range incoming[i] {
				s += last[j]
			}
			x[i] = KatzAlpha*s + KatzBeta
		}
		if floats.Distance(x, last, 1) < float64(n)*katzTol {
			norm := floats.Norm(x, 2)
			if norm == 0 {
				norm = 1
			}
			out := make(map[int64]float64, n)
			for i, id := range ids {
				out[id] = x[i] / norm
			}
			return out, nil
		}
	}
	return nil, errors.NewNumericalInstabilityError("CallGraph.katz", x, katzMaxIter)
}
