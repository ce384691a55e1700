package materials

import (
	"fmt"
	"math"

	"github.com/cml-lca/promc/pkg/lca"
)

// MaterialTotal is the aggregated mass of one material in the functional
// unit. Amount is the raw sum of supply-vector entries; Percent is the
// share of the product's reference weight, rounded to the requested
// precision.
type MaterialTotal struct {
	Name    string
	Amount  float64
	Percent float64
}

// GroupTotal sums a group's materials, in dictionary order.
type GroupTotal struct {
	Name      string
	Materials []MaterialTotal
	Amount    float64
	Percent   float64
}

// Composition is the result of aggregating a solved supply vector
// against a dictionary.
type Composition struct {
	Groups []GroupTotal
	// Weight is the product reference weight in kg used for percentages.
	Weight float64
}

// Aggregate sums the supply-vector entries of every dictionary key and
// returns totals per material and per group, preserving dictionary
// order. Run it after Solve for the Material Footprint or after Resolve
// for the Material Composition.
//
// weight is the product's reference weight in kg; precision is the
// number of decimals for the percentage figures.
//
// A dictionary key with no entry in the solve index means the dictionary
// and the database disagree, and the mismatch is a fatal error naming
// the key. Returning zero for it would silently understate the material.
func Aggregate(ctx *lca.Context, dict *Dictionary, weight float64, precision int) (*Composition, error) {
	if weight <= 0 {
		return nil, fmt.Errorf("%w: %g", ErrBadWeight, weight)
	}

	comp := &Composition{Weight: weight}
	for _, g := range dict.Groups {
		gt := GroupTotal{Name: g.Name}
		for _, m := range g.Materials {
			mt := MaterialTotal{Name: m.Name}
			for _, key := range m.Keys {
				s, err := ctx.Supply(key)
				if err != nil {
					return nil, fmt.Errorf("aggregating %s/%s: %w", g.Name, m.Name, err)
				}
				mt.Amount += s
			}
			mt.Percent = roundTo(mt.Amount/weight*100, precision)
			gt.Amount += mt.Amount
			gt.Materials = append(gt.Materials, mt)
		}
		gt.Percent = roundTo(gt.Amount/weight*100, precision)
		comp.Groups = append(comp.Groups, gt)
	}
	return comp, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
