// Package pointcloud holds the in-memory point cloud representation and
// PLY file I/O used by the sampling pipeline.
package pointcloud

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// Color is an RGB triple with each component in [0, 1].
type Color [3]float64

// PointCloud stores per-point attributes as index-aligned parallel
// slices: index i in Points, Colors and Normals describes the same
// physical point. Colors and Normals may be empty; when present they
// have the same length as Points.
type PointCloud struct {
	Points  []r3.Vector
	Colors  []Color
	Normals []r3.Vector
}

// Len returns the number of points in the cloud.
func (pc *PointCloud) Len() int {
	return len(pc.Points)
}

// HasColors reports whether the cloud carries a color attribute.
func (pc *PointCloud) HasColors() bool {
	return len(pc.Colors) > 0
}

// HasNormals reports whether the cloud carries a normal attribute.
func (pc *PointCloud) HasNormals() bool {
	return len(pc.Normals) > 0
}

// Validate checks that the attribute slices are index-aligned.
func (pc *PointCloud) Validate() error {
	if pc.HasColors() && len(pc.Colors) != len(pc.Points) {
		return fmt.Errorf("pointcloud: %d points but %d colors", len(pc.Points), len(pc.Colors))
	}
	if pc.HasNormals() && len(pc.Normals) != len(pc.Points) {
		return fmt.Errorf("pointcloud: %d points but %d normals", len(pc.Points), len(pc.Normals))
	}
	return nil
}

// Clone returns a deep copy of the cloud with fresh backing arrays.
func (pc *PointCloud) Clone() *PointCloud {
	out := &PointCloud{
		Points: append([]r3.Vector(nil), pc.Points...),
	}
	if pc.HasColors() {
		out.Colors = append([]Color(nil), pc.Colors...)
	}
	if pc.HasNormals() {
		out.Normals = append([]r3.Vector(nil), pc.Normals...)
	}
	return out
}

// Select gathers the points at the given indices into a new cloud,
// carrying colors and normals along so index alignment is preserved.
// The result shares no backing storage with the receiver. Indices out
// of range cause an error; duplicate indices are permitted.
func (pc *PointCloud) Select(indices []int) (*PointCloud, error) {
	out := &PointCloud{
		Points: make([]r3.Vector, 0, len(indices)),
	}
	if pc.HasColors() {
		out.Colors = make([]Color, 0, len(indices))
	}
	if pc.HasNormals() {
		out.Normals = make([]r3.Vector, 0, len(indices))
	}
	n := pc.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("pointcloud: select index %d out of range [0,%d)", idx, n)
		}
		out.Points = append(out.Points, pc.Points[idx])
		if pc.HasColors() {
			out.Colors = append(out.Colors, pc.Colors[idx])
		}
		if pc.HasNormals() {
			out.Normals = append(out.Normals, pc.Normals[idx])
		}
	}
	return out, nil
}
