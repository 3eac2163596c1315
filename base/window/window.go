// Package window builds overlapping window views over flat sample vectors.
//
// A View does not own its samples: every row aliases the source vector, so
// overlapping rows share storage. Callers that modify rows in place must work
// on a Copy.
package window

import (
	"gonum.org/v1/gonum/mat"
)

type View struct {
	v     []float64
	n     int
	shift int
	rows  int
}

// New returns the windows of length n starting at offsets 0, shift, 2*shift,
// ... of v.
func New(v []float64, n, shift int) View {
	if n < 1 || shift < 1 {
		panic("invalid window geometry")
	}
	if n > len(v) {
		panic("window length exceeds number of values")
	}
	return View{
		v:     v,
		n:     n,
		shift: shift,
		rows:  (len(v)-n)/shift + 1,
	}
}

func (w View) Rows() int { return w.rows }

func (w View) Cols() int { return w.n }

// Row returns window i. The result is capped so that appending to it never
// writes into the following window.
func (w View) Row(i int) []float64 {
	if i < 0 || i >= w.rows {
		panic("window index out of range")
	}
	s := i * w.shift
	return w.v[s : s+w.n : s+w.n]
}

// Copy returns a view with the same rows backed by independent storage.
func (w View) Copy() View {
	buf := make([]float64, w.rows*w.n)
	for i := 0; i < w.rows; i++ {
		copy(buf[i*w.n:(i+1)*w.n], w.Row(i))
	}
	return View{v: buf, n: w.n, shift: w.n, rows: w.rows}
}

// Matrix stacks the windows as rows of a dense matrix. The matrix does not
// alias v.
func (w View) Matrix() *mat.Dense {
	c := w
	if w.shift != w.n {
		c = w.Copy()
	} else {
		c.v = append([]float64(nil), w.v[:w.rows*w.n]...)
	}
	return mat.NewDense(c.rows, c.n, c.v[:c.rows*c.n])
}
