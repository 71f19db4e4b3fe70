// Package outlier removes statistical outliers from point clouds prior
// to sampling. A point is an outlier when its mean distance to its k
// nearest neighbours exceeds the global mean of that statistic by more
// than stdRatio standard deviations.
package outlier

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"github.com/SUNY-MEC-MEIC-Lab/PRISM/internal/pointcloud"
)

// DefaultNeighbours and DefaultStdRatio match the preprocessing
// defaults of the original pipeline.
const (
	DefaultNeighbours = 100
	DefaultStdRatio   = 2.0
)

// Remove returns a copy of the cloud with statistical outliers dropped.
// Attribute alignment (colors, normals) is preserved. Clouds too small
// to support the statistic pass through as a clone.
func Remove(cloud *pointcloud.PointCloud, neighbours int, stdRatio float64) (*pointcloud.PointCloud, error) {
	if neighbours < 1 {
		return nil, fmt.Errorf("outlier: neighbour count must be >= 1, got %d", neighbours)
	}
	if !(stdRatio > 0) {
		return nil, fmt.Errorf("outlier: std ratio must be > 0, got %g", stdRatio)
	}
	if err := cloud.Validate(); err != nil {
		return nil, err
	}

	n := cloud.Len()
	if n < 3 {
		return cloud.Clone(), nil
	}
	if neighbours > n-1 {
		neighbours = n - 1
	}

	// The tree sorts its input in place, so build it over a copy and
	// keep a parallel slice for querying by index.
	queries := make([]kdtree.Point, n)
	treePoints := make(kdtree.Points, n)
	for i, p := range cloud.Points {
		pt := kdtree.Point{p.X, p.Y, p.Z}
		queries[i] = pt
		treePoints[i] = pt
	}
	tree := kdtree.New(treePoints, false)

	meanDists := make([]float64, n)
	var wg sync.WaitGroup
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				meanDists[i] = meanNeighbourDistance(tree, queries[i], neighbours)
			}
		}(start, end)
	}
	wg.Wait()

	mean, std := stat.MeanStdDev(meanDists, nil)
	threshold := mean + stdRatio*std

	kept := make([]int, 0, n)
	for i, d := range meanDists {
		if d <= threshold {
			kept = append(kept, i)
		}
	}
	return cloud.Select(kept)
}

// meanNeighbourDistance queries the k nearest neighbours of q (plus q
// itself, which is in the tree) and averages their Euclidean distance.
func meanNeighbourDistance(tree *kdtree.Tree, q kdtree.Point, neighbours int) float64 {
	keeper := kdtree.NewNKeeper(neighbours + 1)
	tree.NearestSet(keeper, q)

	dists := make([]float64, 0, len(keeper.Heap))
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil || math.IsInf(cd.Dist, 1) {
			continue
		}
		dists = append(dists, math.Sqrt(cd.Dist))
	}
	if len(dists) < 2 {
		return 0
	}
	// Drop the query point's own zero-distance entry.
	sort.Float64s(dists)
	sum := 0.0
	for _, d := range dists[1:] {
		sum += d
	}
	return sum / float64(len(dists)-1)
}
