// Package report renders composition results as plain text.
//
// Reports append to a single output file across runs, matching how
// batch experiments collect results: one file accumulates the BEFORE
// and AFTER sections of every product in the run matrix. Numbers are
// rounded to a fixed number of decimals so result tables diff cleanly
// between runs.
package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cml-lca/promc/pkg/materials"
)

const defaultPrecision = 5

// Writer renders report sections to an underlying writer.
type Writer struct {
	w         io.Writer
	closer    io.Closer
	precision int
}

// Open appends to the report file at path, creating it if needed.
func Open(path string, precision int) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening report %s: %w", path, err)
	}
	w := NewWriter(f, precision)
	w.closer = f
	return w, nil
}

// NewWriter renders to w with the given decimal precision. A precision
// below zero selects the default of 5 decimals.
func NewWriter(w io.Writer, precision int) *Writer {
	if precision < 0 {
		precision = defaultPrecision
	}
	return &Writer{w: w, precision: precision}
}

// Close closes the underlying file, if the writer owns one.
func (r *Writer) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Section writes a section header, such as "BEFORE filtering".
func (r *Writer) Section(title string) error {
	_, err := fmt.Fprintf(r.w, "\n%s\n\n", title)
	return err
}

// Line writes one formatted line.
func (r *Writer) Line(format string, args ...interface{}) error {
	_, err := fmt.Fprintf(r.w, format+"\n", args...)
	return err
}

// Score writes an inventory-score line: the mass of one elementary flow
// embodied in the functional unit.
func (r *Writer) Score(flow string, score, fu float64, product string) error {
	_, err := fmt.Fprintf(r.w, "%s kg of %s in %s %s\n",
		r.format(score), flow, r.format(fu), product)
	return err
}

// Composition writes one aggregated composition: each group's materials
// in dictionary order with mass and percent-of-weight columns, followed
// by a TOTAL line per group. Material names are column-aligned within
// their group.
func (r *Writer) Composition(comp *materials.Composition) error {
	for _, g := range comp.Groups {
		if _, err := fmt.Fprintf(r.w, "%s:\n", g.Name); err != nil {
			return err
		}
		width := nameWidth(g)
		for _, m := range g.Materials {
			_, err := fmt.Fprintf(r.w, "  %-*s %12s kg OR %s %%\n",
				width, m.Name, r.format(m.Amount), r.format(m.Percent))
			if err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(r.w, "\tTOTAL: %s kg OR %s %%\n\n",
			r.format(g.Amount), r.format(g.Percent))
		if err != nil {
			return err
		}
	}
	return nil
}

// format rounds to the writer's precision and drops trailing zeros, so
// 0.25000 prints as 0.25 and 40 prints as 40.
func (r *Writer) format(v float64) string {
	p := math.Pow(10, float64(r.precision))
	return strconv.FormatFloat(math.Round(v*p)/p, 'f', -1, 64)
}

func nameWidth(g materials.GroupTotal) int {
	width := 10
	for _, m := range g.Materials {
		if n := len(m.Name); n > width {
			width = n
		}
	}
	return width
}

// Rule writes a separator line.
func (r *Writer) Rule() error {
	_, err := fmt.Fprintln(r.w, strings.Repeat("-", 60))
	return err
}
