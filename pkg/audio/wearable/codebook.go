package wearable

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Default codebook dimensions.
const (
	// DefaultBins is the size of the frequency-domain vector produced by the
	// expand projection.
	DefaultBins = 160

	// DefaultSamples is the number of time-domain samples one sub-frame
	// reconstructs to (10 ms at 16 kHz).
	DefaultSamples = 160
)

// Codebook holds the two fixed linear transforms that reconstruct a
// sub-frame: Expand maps SubFrameSize coefficients to Bins frequency values,
// Inverse maps those to time-domain samples.
type Codebook struct {
	// Expand is Bins×SubFrameSize.
	Expand *mat.Dense

	// Inverse is Samples×Bins.
	Inverse *mat.Dense
}

// DefaultCodebook returns the band-limited identity expansion followed by an
// orthonormal inverse DCT-II (a DCT-III) over [DefaultBins] bins.
func DefaultCodebook() *Codebook {
	expand := mat.NewDense(DefaultBins, SubFrameSize, nil)
	for k := range SubFrameSize {
		expand.Set(k, k, 1)
	}
	return &Codebook{Expand: expand, Inverse: inverseDCT(DefaultSamples, DefaultBins)}
}

// inverseDCT builds the n×bins orthonormal DCT-III matrix.
func inverseDCT(n, bins int) *mat.Dense {
	m := mat.NewDense(n, bins, nil)
	c0 := math.Sqrt(1 / float64(bins))
	ck := math.Sqrt(2 / float64(bins))
	for i := range n {
		for k := range bins {
			c := ck
			if k == 0 {
				c = c0
			}
			m.Set(i, k, c*math.Cos(math.Pi*float64(2*i+1)*float64(k)/float64(2*bins)))
		}
	}
	return m
}

// LoadCodebook reads the expand and inverse matrices from files of raw
// little-endian float32 values in row-major order. bins and samples give
// the matrix shapes; the expand matrix always has SubFrameSize columns.
func LoadCodebook(expandPath, inversePath string, bins, samples int) (*Codebook, error) {
	expand, err := loadMatrix(expandPath, bins, SubFrameSize)
	if err != nil {
		return nil, err
	}
	inverse, err := loadMatrix(inversePath, samples, bins)
	if err != nil {
		return nil, err
	}
	cb := &Codebook{Expand: expand, Inverse: inverse}
	if err := cb.Validate(); err != nil {
		return nil, err
	}
	return cb, nil
}

func loadMatrix(path string, rows, cols int) (*mat.Dense, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wearable: read codebook %q: %w", path, err)
	}
	if len(raw) != rows*cols*4 {
		return nil, fmt.Errorf("wearable: codebook %q has %d bytes, want %d (%dx%d float32)",
			path, len(raw), rows*cols*4, rows, cols)
	}
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return mat.NewDense(rows, cols, data), nil
}

// Validate checks that the two matrices chain correctly.
func (c *Codebook) Validate() error {
	if c.Expand == nil || c.Inverse == nil {
		return fmt.Errorf("wearable: codebook matrices must not be nil")
	}
	er, ec := c.Expand.Dims()
	ir, ic := c.Inverse.Dims()
	if ec != SubFrameSize {
		return fmt.Errorf("wearable: expand matrix has %d columns, want %d", ec, SubFrameSize)
	}
	if ic != er {
		return fmt.Errorf("wearable: inverse matrix has %d columns, expand produces %d bins", ic, er)
	}
	if ir == 0 {
		return fmt.Errorf("wearable: inverse matrix has no rows")
	}
	return nil
}

// SamplesPerSubFrame returns how many time-domain samples one sub-frame
// reconstructs to.
func (c *Codebook) SamplesPerSubFrame() int {
	r, _ := c.Inverse.Dims()
	return r
}

// reconstructor applies a codebook to sub-frames, reusing its vectors.
type reconstructor struct {
	cb     *Codebook
	coeffs *mat.VecDense
	freq   *mat.VecDense
	out    *mat.VecDense
}

func newReconstructor(cb *Codebook) *reconstructor {
	bins, _ := cb.Expand.Dims()
	return &reconstructor{
		cb:     cb,
		coeffs: mat.NewVecDense(SubFrameSize, nil),
		freq:   mat.NewVecDense(bins, nil),
		out:    mat.NewVecDense(cb.SamplesPerSubFrame(), nil),
	}
}

// apply decodes one sub-frame of signed 8-bit coefficients. The returned
// slice is owned by the reconstructor and valid until the next call.
func (r *reconstructor) apply(sub []byte) []float64 {
	for i, b := range sub {
		r.coeffs.SetVec(i, float64(int8(b))/128.0)
	}
	r.freq.MulVec(r.cb.Expand, r.coeffs)
	r.out.MulVec(r.cb.Inverse, r.freq)
	return r.out.RawVector().Data
}
