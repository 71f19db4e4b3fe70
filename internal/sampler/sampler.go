// Package sampler implements color-stratified point cloud sampling:
// colors are quantized into bins and each bin contributes at most K
// points to the output, chosen uniformly at random from the bin's
// members. Rare colors therefore survive reductions that would erase
// them under spatial or uniform random downsampling.
package sampler

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/SUNY-MEC-MEIC-Lab/PRISM/internal/pointcloud"
)

// chromaEpsilon guards the chromaticity normalization against zero-sum
// (pure black) colors.
const chromaEpsilon = 1e-6

// Params configures the sampler.
type Params struct {
	// K is the bin capacity: the maximum number of points retained
	// per quantized color bin. Must be >= 1.
	K int

	// Quantization is the color bin step size on the 0-255 scale.
	// Smaller values produce more, finer bins. Must be > 0.
	Quantization float64

	// UseChromaticity normalizes colors by their component sum before
	// binning, making bins invariant to brightness. When false, raw
	// RGB is binned and brightness separates bins.
	UseChromaticity bool
}

// DefaultParams returns the default sampling parameters: one point per
// bin, unit quantization step, chromaticity normalization enabled.
func DefaultParams() Params {
	return Params{
		K:               1,
		Quantization:    1.0,
		UseChromaticity: true,
	}
}

// Validate reports configuration errors. It is called before any
// computation begins; invalid values are never clamped.
func (p Params) Validate() error {
	if p.K < 1 {
		return fmt.Errorf("sampler: bin capacity k must be >= 1, got %d", p.K)
	}
	if !(p.Quantization > 0) {
		return fmt.Errorf("sampler: quantization step must be > 0, got %g", p.Quantization)
	}
	return nil
}

// BinKey identifies a quantized color bin. Two points share a bin iff
// their keys are equal.
type BinKey struct {
	R, G, B int32
}

// Sampler performs stratified sampling with an explicit random source
// so results are reproducible under a fixed seed and independent
// Samplers can run concurrently over different clouds.
type Sampler struct {
	params Params
	rng    *rand.Rand
}

// New creates a Sampler. The rng must not be shared with other
// concurrently running Samplers.
func New(params Params, rng *rand.Rand) (*Sampler, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("sampler: nil random source")
	}
	return &Sampler{params: params, rng: rng}, nil
}

// Params returns the sampler's configuration.
func (s *Sampler) Params() Params {
	return s.params
}

// Sample reduces the cloud so that every quantized color bin keeps at
// most K members, chosen uniformly at random. The input is never
// mutated; the output shares no backing storage with it. An empty
// cloud passes through as an empty cloud. A cloud without colors is an
// error: callers are expected to guard and skip such clouds.
func (s *Sampler) Sample(cloud *pointcloud.PointCloud) (*pointcloud.PointCloud, error) {
	if cloud.Len() == 0 {
		return cloud.Clone(), nil
	}
	if !cloud.HasColors() {
		return nil, fmt.Errorf("sampler: point cloud has no color attribute")
	}
	if err := cloud.Validate(); err != nil {
		return nil, err
	}

	keys := quantizeColors(cloud.Colors, s.params)

	// Shuffle the global index order first, then group with a stable
	// sort on the bin key. Each group's member order is then a uniform
	// random permutation, so keeping the first K of a group is a
	// uniform without-replacement choice of K members.
	indices := make([]int, cloud.Len())
	for i := range indices {
		indices[i] = i
	}
	s.rng.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
	sort.SliceStable(indices, func(a, b int) bool {
		return keys[indices[a]].less(keys[indices[b]])
	})

	kept := make([]int, 0, cloud.Len())
	rank := 0
	for pos, idx := range indices {
		if pos > 0 && keys[indices[pos-1]] == keys[idx] {
			rank++
		} else {
			rank = 0
		}
		if rank < s.params.K {
			kept = append(kept, idx)
		}
	}
	return cloud.Select(kept)
}

func (k BinKey) less(o BinKey) bool {
	if k.R != o.R {
		return k.R < o.R
	}
	if k.G != o.G {
		return k.G < o.G
	}
	return k.B < o.B
}

// quantizeColors maps each color to its bin key: chromaticity or raw
// transform onto the 0-255 scale, divide by the quantization step,
// round to nearest with ties to even.
func quantizeColors(colors []pointcloud.Color, params Params) []BinKey {
	keys := make([]BinKey, len(colors))
	for i, c := range colors {
		r, g, b := c[0], c[1], c[2]
		if params.UseChromaticity {
			sum := r + g + b + chromaEpsilon
			r /= sum
			g /= sum
			b /= sum
		}
		keys[i] = BinKey{
			R: quantize(r*255.0, params.Quantization),
			G: quantize(g*255.0, params.Quantization),
			B: quantize(b*255.0, params.Quantization),
		}
	}
	return keys
}

func quantize(v, step float64) int32 {
	return int32(math.RoundToEven(v / step))
}

// BinCounts returns the occupancy of every quantized color bin in the
// cloud under the given parameters. Useful for tuning the quantization
// step and for occupancy reports; K is not consulted.
func BinCounts(cloud *pointcloud.PointCloud, params Params) (map[BinKey]int, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if cloud.Len() > 0 && !cloud.HasColors() {
		return nil, fmt.Errorf("sampler: point cloud has no color attribute")
	}
	counts := make(map[BinKey]int)
	for _, key := range quantizeColors(cloud.Colors, params) {
		counts[key]++
	}
	return counts, nil
}
