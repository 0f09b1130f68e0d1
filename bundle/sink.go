package bundle

import (
	"go.viam.com/camcalib/projection"
	"go.viam.com/camcalib/solverapi"
)

// Sink accumulates a sparse Jacobian as (row, col, value) triplets. The
// external solver's factorizer consumes a matrix built this way; this
// repo's own reference solverapi.Factorization does too (see
// solverapi/gonum_factorization.go).
type Sink struct {
	Rows []int
	Cols []int
	Vals []float64
}

// Add records one nonzero entry. Values are not deduplicated or summed;
// callers never write the same (row, col) twice within one assembly.
func (s *Sink) Add(row, col int, val float64) {
	s.Rows = append(s.Rows, row)
	s.Cols = append(s.Cols, col)
	s.Vals = append(s.Vals, val)
}

// Len returns the number of recorded nonzeros.
func (s *Sink) Len() int { return len(s.Vals) }

// ToSparseMatrix hands the accumulated triplets to the solver boundary
// as a solverapi.SparseMatrix. rows/cols give the full Jacobian shape;
// the Sink itself does not track it since callers append entries
// before the final residual-vector length or state width is known.
func (s *Sink) ToSparseMatrix(rows, cols int) solverapi.SparseMatrix {
	m := solverapi.SparseMatrix{Rows: rows, Cols: cols, Entries: make([]solverapi.Triplet, s.Len())}
	for i := range s.Vals {
		m.Entries[i] = solverapi.Triplet{Row: s.Rows[i], Col: s.Cols[i], Val: s.Vals[i]}
	}
	return m
}

// JacobianWriter emits the dq/dintrinsics contribution of one projected
// point into a Sink, scaled by weight. Two implementations exist because
// the sparsity pattern differs structurally: dense parametric models
// touch every intrinsics column, splined models touch only a 4x4
// neighborhood of control points (spec_full.md section 9's
// "sparse-but-row-structured Jacobian emission" design note).
type JacobianWriter interface {
	// WriteIntrinsics writes the intrinsics contribution of jac at rows
	// rowX, rowY, returning the number of nonzeros written.
	WriteIntrinsics(sink *Sink, rowX, rowY int, intrinsicsColBase int, weight float64, jac projection.IntrinsicsJacobian) int
}

// denseWriter writes a full dense row per output component: colBase is
// the packed-state column of the camera's first intrinsics scalar.
type denseWriter struct{}

func (denseWriter) WriteIntrinsics(sink *Sink, rowX, rowY, colBase int, weight float64, jac projection.IntrinsicsJacobian) int {
	if jac.Dense == nil {
		return 0
	}
	n := len(jac.Dense) / 2
	for k := 0; k < n; k++ {
		sink.Add(rowX, colBase+k, weight*jac.Dense[k])
		sink.Add(rowY, colBase+k, weight*jac.Dense[n+k])
	}
	return 2 * n
}

// splinedWriter writes the 4x4x2 sparse control-point tile: colBase is
// the packed-state column of control point (0,0)'s channel-0 scalar.
type splinedWriter struct{}

func (splinedWriter) WriteIntrinsics(sink *Sink, rowX, rowY, colBase int, weight float64, jac projection.IntrinsicsJacobian) int {
	sj := jac.Splined
	if sj == nil {
		return 0
	}
	count := 0
	for iy := 0; iy < 4; iy++ {
		for ix := 0; ix < 4; ix++ {
			w := sj.CoefX[ix] * sj.CoefY[iy]
			// Control point (sj.IX0+ix, sj.IY0+iy)'s two channels are
			// interleaved; channel0 feeds qx, channel1 feeds qy. Always
			// written, even when w==0, so the sparsity pattern is a pure
			// function of the model shape, not the sample location.
			col := colBase + (sj.IY0+iy)*sj.Stride + (sj.IX0+ix)*2
			sink.Add(rowX, col+0, weight*sj.U[0]*w)
			sink.Add(rowY, col+1, weight*sj.U[1]*w)
			count += 2
		}
	}
	return count
}

// writerFor returns the JacobianWriter matching jac's shape.
func writerFor(jac projection.IntrinsicsJacobian) JacobianWriter {
	if jac.Splined != nil {
		return splinedWriter{}
	}
	return denseWriter{}
}
