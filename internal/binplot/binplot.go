// Package binplot renders color-bin occupancy histograms. The plot
// shows how many bins hold how many points, which is the feedback loop
// for choosing a quantization step.
package binplot

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/SUNY-MEC-MEIC-Lab/PRISM/internal/sampler"
)

const histogramBins = 20

func buildHistogram(counts map[sampler.BinKey]int) (*plot.Plot, error) {
	if len(counts) == 0 {
		return nil, fmt.Errorf("binplot: no occupied bins to plot")
	}

	sizes := make(plotter.Values, 0, len(counts))
	for _, n := range counts {
		sizes = append(sizes, float64(n))
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Color bin occupancy (%d bins)", len(counts))
	p.X.Label.Text = "points per bin"
	p.Y.Label.Text = "bins"

	nBars := histogramBins
	if len(sizes) < nBars {
		nBars = len(sizes)
	}
	h, err := plotter.NewHist(sizes, nBars)
	if err != nil {
		return nil, fmt.Errorf("binplot: building histogram: %w", err)
	}
	p.Add(h)
	return p, nil
}

// WriteHistogram renders the occupancy histogram as PNG to w.
func WriteHistogram(w io.Writer, counts map[sampler.BinKey]int) error {
	p, err := buildHistogram(counts)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("binplot: rendering histogram: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("binplot: writing histogram: %w", err)
	}
	return nil
}

// SaveHistogram renders the occupancy histogram as PNG to path.
func SaveHistogram(path string, counts map[sampler.BinKey]int) error {
	p, err := buildHistogram(counts)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("binplot: saving histogram to %s: %w", path, err)
	}
	return nil
}
