package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts a continuous mono float stream between two sample rates.
// Filter state carries over between calls, so one Resampler must be used per
// stream. Not safe for concurrent use.
type Resampler struct {
	srcRate int
	dstRate int
	r       resampling.Resampler
	in      []float64
}

// NewResampler creates a high-quality mono resampler from srcRate to dstRate.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", srcRate, dstRate)
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler %d -> %d: %w", srcRate, dstRate, err)
	}
	return &Resampler{srcRate: srcRate, dstRate: dstRate, r: r}, nil
}

// Process resamples samples. The output length is roughly
// len(samples)*dst/src; the filter delay means early calls may return fewer
// samples than that.
func (r *Resampler) Process(samples []float32) ([]float32, error) {
	if cap(r.in) < len(samples) {
		r.in = make([]float64, len(samples))
	}
	in := r.in[:len(samples)]
	for i, s := range samples {
		in[i] = float64(s)
	}
	out, err := r.r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample %d -> %d: %w", r.srcRate, r.dstRate, err)
	}
	res := make([]float32, len(out))
	for i, s := range out {
		res[i] = float32(s)
	}
	return res, nil
}
