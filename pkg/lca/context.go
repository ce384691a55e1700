// Package lca assembles and solves the LCA linear system for one
// functional unit.
//
// The package owns matrix assembly, the activity/flow index maps, the
// incorporation matrix edit and the re-solve step. The numerical solve
// itself (LU factorization of the technology matrix) is delegated to
// gonum; solver failures such as a singular matrix are surfaced unchanged.
//
// The two-pass pipeline:
//
//	ctx, _ := lca.NewContext(db, lca.FunctionalUnit{laptop.Key: 1})
//	ctx.Solve()                    // first pass: Material Footprint
//	ctx.ApplyIncorporation(nil)    // zero/scale non-incorporated entries
//	ctx.Resolve()                  // second pass: Material Composition
//
// ELI12:
//
// The technology matrix is a giant "recipe book": one column per process,
// saying how much of everything else that process consumes. Solving
// A·s = f answers "to get one laptop, how much must every process in the
// world produce?". The second pass asks the same question after crossing
// out the ingredients that never end up inside the laptop - the factory
// building, the electricity, the packaging - leaving only what the laptop
// is actually made of.
package lca

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/cml-lca/promc/pkg/lci"
	"github.com/cml-lca/promc/pkg/storage"
)

// Common errors
var (
	ErrUnknownActivity = errors.New("activity key not in solve index")
	ErrUnknownFlow     = errors.New("elementary flow not in flow index")
	ErrNotSolved       = errors.New("context not solved yet")
	ErrEmptyDemand     = errors.New("empty functional unit")
)

// FunctionalUnit maps producing activities to demanded amounts, e.g.
// one laptop: {laptopKey: 1}.
type FunctionalUnit map[storage.ActivityKey]float64

// Context holds the solve state for one functional-unit query: the
// technology matrix A, the biosphere matrix B, the index maps built
// during assembly, and the solution vectors.
//
// A Context is created fresh per query and discarded after aggregation.
// It is not safe for concurrent use: the matrix edit mutates the same
// matrix the solver factorizes, so mutation and solve are strictly
// ordered.
type Context struct {
	db     *lci.Database
	demand FunctionalUnit

	// Stable index maps. Activities are indexed in sorted key order so a
	// given database always produces the same matrix layout.
	keys          []storage.ActivityKey
	activityIndex map[storage.ActivityKey]int
	flows         []string
	flowIndex     map[string]int

	tech *mat.Dense    // A: n×n technology matrix
	bio  *mat.Dense    // B: m×n biosphere matrix
	f    *mat.VecDense // demand vector

	lu        mat.LU
	supply    *mat.VecDense // s: A·s = f
	inventory *mat.VecDense // g: B·s
	solved    bool
}

// NewContext assembles the technology and biosphere matrices for the
// given database and functional unit.
//
// Assembly follows the standard LCA sign convention: the diagonal holds
// each activity's produced reference amount (normalized to 1 when the
// dataset does not say otherwise) and off-diagonal entries hold consumed
// amounts, negated. A demand key absent from the database is a fatal
// configuration error.
func NewContext(db *lci.Database, fu FunctionalUnit) (*Context, error) {
	if len(fu) == 0 {
		return nil, ErrEmptyDemand
	}

	acts, err := db.Activities()
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	if len(acts) == 0 {
		return nil, fmt.Errorf("database %q has no activities", db.Name())
	}

	ctx := &Context{
		db:            db,
		demand:        fu,
		activityIndex: make(map[storage.ActivityKey]int, len(acts)),
		flowIndex:     make(map[string]int),
	}

	// Activity index: storage returns activities sorted by key, which
	// fixes row/column order.
	for i, act := range acts {
		ctx.keys = append(ctx.keys, act.Key)
		ctx.activityIndex[act.Key] = i
	}

	// Flow index over every distinct elementary flow name, sorted.
	flowSet := make(map[string]struct{})
	for _, act := range acts {
		for _, ef := range act.Flows {
			flowSet[ef.Flow] = struct{}{}
		}
	}
	for flow := range flowSet {
		ctx.flows = append(ctx.flows, flow)
	}
	sort.Strings(ctx.flows)
	for i, flow := range ctx.flows {
		ctx.flowIndex[flow] = i
	}

	n := len(acts)
	ctx.tech = mat.NewDense(n, n, nil)
	if len(ctx.flows) > 0 {
		ctx.bio = mat.NewDense(len(ctx.flows), n, nil)
	}

	// Diagonal: production. Off-diagonal: consumption, negated.
	for col, act := range acts {
		produced := act.ReferenceAmount
		if produced == 0 {
			produced = 1
		}
		ctx.tech.Set(col, col, produced)

		for _, ef := range act.Flows {
			ctx.bio.Set(ctx.flowIndex[ef.Flow], col, ef.Amount)
		}
	}

	excs, err := db.Exchanges()
	if err != nil {
		return nil, fmt.Errorf("listing exchanges: %w", err)
	}
	for _, exc := range excs {
		row, ok := ctx.activityIndex[exc.Input]
		if !ok {
			return nil, fmt.Errorf("%w: exchange %s input %s", ErrUnknownActivity, exc.ID, exc.Input)
		}
		col, ok := ctx.activityIndex[exc.Output]
		if !ok {
			return nil, fmt.Errorf("%w: exchange %s output %s", ErrUnknownActivity, exc.ID, exc.Output)
		}
		ctx.tech.Set(row, col, ctx.tech.At(row, col)-exc.Amount)
	}

	// Demand vector.
	ctx.f = mat.NewVecDense(n, nil)
	for key, amount := range fu {
		i, ok := ctx.activityIndex[key]
		if !ok {
			return nil, fmt.Errorf("%w: functional unit %s", ErrUnknownActivity, key)
		}
		ctx.f.SetVec(i, amount)
	}

	return ctx, nil
}

// Solve factorizes the technology matrix and computes the supply vector
// s = A⁻¹·f and the inventory vector g = B·s.
//
// Errors from the factorization (singular or near-singular matrix,
// typically a disconnected functional unit or a malformed database) are
// returned unchanged from gonum.
func (c *Context) Solve() error {
	return c.factorizeAndSolve()
}

// Resolve re-factorizes the (possibly edited) technology matrix and
// solves again, reusing the index maps built during assembly. Call after
// ApplyIncorporation to obtain the filtered (composition) solution.
func (c *Context) Resolve() error {
	if !c.solved {
		return ErrNotSolved
	}
	return c.factorizeAndSolve()
}

func (c *Context) factorizeAndSolve() error {
	n, _ := c.tech.Dims()
	c.lu.Factorize(c.tech)

	supply := mat.NewVecDense(n, nil)
	if err := c.lu.SolveVecTo(supply, false, c.f); err != nil {
		return fmt.Errorf("solving technosphere system: %w", err)
	}
	c.supply = supply

	if c.bio != nil {
		m := len(c.flows)
		inventory := mat.NewVecDense(m, nil)
		inventory.MulVec(c.bio, supply)
		c.inventory = inventory
	}

	c.solved = true
	return nil
}

// RedoWithDemand solves for a different functional unit reusing the
// current factorization, without touching the matrix. Used for
// per-component breakdowns: solve once for the product, then redo for
// each direct input scaled by its exchange amount.
func (c *Context) RedoWithDemand(fu FunctionalUnit) error {
	if !c.solved {
		return ErrNotSolved
	}
	if len(fu) == 0 {
		return ErrEmptyDemand
	}

	n, _ := c.tech.Dims()
	f := mat.NewVecDense(n, nil)
	for key, amount := range fu {
		i, ok := c.activityIndex[key]
		if !ok {
			return fmt.Errorf("%w: functional unit %s", ErrUnknownActivity, key)
		}
		f.SetVec(i, amount)
	}
	c.f = f

	supply := mat.NewVecDense(n, nil)
	if err := c.lu.SolveVecTo(supply, false, c.f); err != nil {
		return fmt.Errorf("solving technosphere system: %w", err)
	}
	c.supply = supply

	if c.bio != nil {
		inventory := mat.NewVecDense(len(c.flows), nil)
		inventory.MulVec(c.bio, supply)
		c.inventory = inventory
	}
	return nil
}

// ============================================================================
// Accessors
// ============================================================================

// ActivityKeys returns the solve's activity keys in index order.
func (c *Context) ActivityKeys() []storage.ActivityKey {
	out := make([]storage.ActivityKey, len(c.keys))
	copy(out, c.keys)
	return out
}

// ActivityIndexOf returns the matrix index of an activity key.
func (c *Context) ActivityIndexOf(key storage.ActivityKey) (int, error) {
	i, ok := c.activityIndex[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownActivity, key)
	}
	return i, nil
}

// Supply returns the solved supply-vector entry for an activity: how much
// of its output is needed, directly or indirectly, to deliver the
// functional unit. A key outside the solve index is a fatal configuration
// mismatch identified by key in the error.
func (c *Context) Supply(key storage.ActivityKey) (float64, error) {
	if !c.solved {
		return 0, ErrNotSolved
	}
	i, ok := c.activityIndex[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownActivity, key)
	}
	return c.supply.AtVec(i), nil
}

// SupplyVector returns a copy of the full supply vector in index order.
func (c *Context) SupplyVector() ([]float64, error) {
	if !c.solved {
		return nil, ErrNotSolved
	}
	out := make([]float64, c.supply.Len())
	for i := range out {
		out[i] = c.supply.AtVec(i)
	}
	return out, nil
}

// Flows returns the solve's elementary flow names in index order.
func (c *Context) Flows() []string {
	out := make([]string, len(c.flows))
	copy(out, c.flows)
	return out
}

// Inventory returns the summed inventory-vector entry for an exact
// elementary flow name.
func (c *Context) Inventory(flow string) (float64, error) {
	if !c.solved {
		return 0, ErrNotSolved
	}
	i, ok := c.flowIndex[flow]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFlow, flow)
	}
	return c.inventory.AtVec(i), nil
}

// ResolveFlow resolves a flow name fragment by substring match over the
// known elementary flows; the first match in sorted order wins. Returns
// ErrUnknownFlow when nothing matches.
func (c *Context) ResolveFlow(fragment string) (string, error) {
	for _, flow := range c.flows {
		if strings.Contains(flow, fragment) {
			return flow, nil
		}
	}
	return "", fmt.Errorf("%w: no flow matches %q", ErrUnknownFlow, fragment)
}

// Score resolves a flow fragment and returns its inventory total: the
// single-scalar material footprint (first pass) or material composition
// (second pass) for that flow.
func (c *Context) Score(flowFragment string) (float64, error) {
	flow, err := c.ResolveFlow(flowFragment)
	if err != nil {
		return 0, err
	}
	return c.Inventory(flow)
}

// TechEntry returns the current technology-matrix cell for a
// (supplier, consumer) pair. Intended for diagnostics and tests.
func (c *Context) TechEntry(input, output storage.ActivityKey) (float64, error) {
	row, ok := c.activityIndex[input]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownActivity, input)
	}
	col, ok := c.activityIndex[output]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownActivity, output)
	}
	return c.tech.At(row, col), nil
}
