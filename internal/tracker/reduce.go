package tracker

import (
	"github.com/MeKo-Tech/dvo/internal/common"
	"github.com/MeKo-Tech/dvo/internal/mempool"
)

// reduceBlock is the slice length each reduction worker folds into one
// partial sum before the tree passes take over.
const reduceBlock = 1024

// blockCount returns ceil(n / reduceBlock).
func blockCount(n int) int {
	return (n + reduceBlock - 1) / reduceBlock
}

// reduceScalar folds f(i) over [0, n) into a single sum: one parallel pass
// producing a partial sum per block, then tree passes folding the partials
// until one value remains. Partials accumulate in float64.
func (t *Tracker) reduceScalar(n int, f func(i int) float64) float64 {
	if n == 0 {
		return 0
	}
	nblocks := blockCount(n)
	partials := mempool.GetFloat64(nblocks)
	defer mempool.PutFloat64(partials)

	common.ParallelRows(nblocks, t.cfg.Workers, func(b0, b1 int) {
		for b := b0; b < b1; b++ {
			lo := b * reduceBlock
			hi := lo + reduceBlock
			if hi > n {
				hi = n
			}
			s := 0.0
			for i := lo; i < hi; i++ {
				s += f(i)
			}
			partials[b] = s
		}
	})
	return t.reduceTree(partials, nblocks, 1)[0]
}

// reduceSum is the plain-sum primitive, retained for the variance sums.
func (t *Tracker) reduceSum(xs []float32, n int) float64 {
	return t.reduceScalar(n, func(i int) float64 { return float64(xs[i]) })
}

// reduceSumSquares folds sum(xs[i]^2), the photometric error term.
func (t *Tracker) reduceSumSquares(xs []float32, n int) float64 {
	return t.reduceScalar(n, func(i int) float64 {
		v := float64(xs[i])
		return v * v
	})
}

// One reduced normal-equation block: the 21 unique entries of the
// symmetric 6x6 A = J^T W J (upper triangle, row major) followed by the 6
// entries of b = J^T W r.
const (
	nAEntries = 21
	nBEntries = 6
	neqStride = nAEntries + nBEntries
)

// reduceOuter assembles A and b in one fused pass: each block folds its
// pixel slice into 27 partial sums, and the partials are tree-reduced to a
// single block. Invalid pixels carry zero J, W, and r, so no branching is
// needed here.
func (t *Tracker) reduceOuter(n int) (a [6][6]float64, b [6]float64) {
	nblocks := blockCount(n)
	partials := mempool.GetFloat64(nblocks * neqStride)
	defer mempool.PutFloat64(partials)

	common.ParallelRows(nblocks, t.cfg.Workers, func(b0, b1 int) {
		var acc [neqStride]float64
		for blk := b0; blk < b1; blk++ {
			lo := blk * reduceBlock
			hi := lo + reduceBlock
			if hi > n {
				hi = n
			}
			for i := range acc {
				acc[i] = 0
			}
			for i := lo; i < hi; i++ {
				w := float64(t.w[i])
				if w == 0 {
					continue
				}
				row := t.j[i*6 : i*6+6]
				var jw [6]float64
				for k := range 6 {
					jw[k] = w * float64(row[k])
				}
				e := 0
				for k := range 6 {
					jk := float64(row[k])
					for l := k; l < 6; l++ {
						acc[e] += jw[l] * jk
						e++
					}
				}
				ri := float64(t.r[i])
				for k := range 6 {
					acc[nAEntries+k] += jw[k] * ri
				}
			}
			copy(partials[blk*neqStride:(blk+1)*neqStride], acc[:])
		}
	})

	out := t.reduceTree(partials, nblocks, neqStride)

	e := 0
	for k := range 6 {
		for l := k; l < 6; l++ {
			a[k][l] = out[e]
			a[l][k] = out[e]
			e++
		}
	}
	for k := range 6 {
		b[k] = out[nAEntries+k]
	}
	return a, b
}

// reduceTree folds m strided partial blocks down to one by repeated
// block-of-1024 passes, ping-ponging between two scratch buffers. When m is
// already 1 the returned slice aliases partials and is only valid until the
// caller releases it; otherwise it is a freshly allocated copy.
func (t *Tracker) reduceTree(partials []float64, m, stride int) []float64 {
	in := partials
	for m > 1 {
		mOut := blockCount(m)
		out := mempool.GetFloat64(mOut * stride)
		common.ParallelRows(mOut, t.cfg.Workers, func(b0, b1 int) {
			for blk := b0; blk < b1; blk++ {
				lo := blk * reduceBlock
				hi := lo + reduceBlock
				if hi > m {
					hi = m
				}
				for s := range stride {
					acc := 0.0
					for i := lo; i < hi; i++ {
						acc += in[i*stride+s]
					}
					out[blk*stride+s] = acc
				}
			}
		})
		if &in[0] != &partials[0] {
			mempool.PutFloat64(in)
		}
		in = out
		m = mOut
	}
	if &in[0] == &partials[0] {
		return in[:stride]
	}
	// Copy the final block out so the intermediate buffer can be pooled.
	final := make([]float64, stride)
	copy(final, in[:stride])
	mempool.PutFloat64(in)
	return final
}
