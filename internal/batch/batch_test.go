package batch

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/SUNY-MEC-MEIC-Lab/PRISM/internal/fsutil"
	"github.com/SUNY-MEC-MEIC-Lab/PRISM/internal/pointcloud"
	"github.com/SUNY-MEC-MEIC-Lab/PRISM/internal/rundb"
	"github.com/SUNY-MEC-MEIC-Lab/PRISM/internal/sampler"
)

func plyBytes(t *testing.T, cloud *pointcloud.PointCloud) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := pointcloud.WritePLY(&buf, cloud); err != nil {
		t.Fatalf("WritePLY failed: %v", err)
	}
	return buf.Bytes()
}

// twoColorCloud has n/2 red and n/2 green points.
func twoColorCloud(n int) *pointcloud.PointCloud {
	cloud := &pointcloud.PointCloud{}
	for i := 0; i < n; i++ {
		cloud.Points = append(cloud.Points, r3.Vector{X: float64(i)})
		if i%2 == 0 {
			cloud.Colors = append(cloud.Colors, pointcloud.Color{1, 0, 0})
		} else {
			cloud.Colors = append(cloud.Colors, pointcloud.Color{0, 1, 0})
		}
	}
	return cloud
}

type logCapture struct {
	lines []string
}

func (lc *logCapture) logf(format string, args ...any) {
	lc.lines = append(lc.lines, fmt.Sprintf(format, args...))
}

func (lc *logCapture) contains(substr string) bool {
	for _, l := range lc.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func defaultTestOptions() Options {
	return Options{
		Sampling:           sampler.DefaultParams(),
		SkipOutlierRemoval: true,
		Seed:               42,
	}
}

func readOutput(t *testing.T, mfs *fsutil.MemoryFileSystem, path string) *pointcloud.PointCloud {
	t.Helper()
	data, err := mfs.ReadFile(path)
	if err != nil {
		t.Fatalf("output %s missing: %v", path, err)
	}
	cloud, err := pointcloud.ReadPLY(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output %s unreadable: %v", path, err)
	}
	return cloud
}

func TestNewRunnerValidation(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()

	opts := defaultTestOptions()
	opts.Sampling.K = 0
	if _, err := NewRunner(mfs, opts); err == nil {
		t.Error("expected error for k=0")
	}

	opts = defaultTestOptions()
	opts.SkipOutlierRemoval = false
	opts.OutlierNeighbours = 0
	if _, err := NewRunner(mfs, opts); err == nil {
		t.Error("expected error for zero outlier neighbours")
	}

	opts = defaultTestOptions()
	opts.SkipOutlierRemoval = false
	opts.OutlierNeighbours = 10
	opts.OutlierStdRatio = 0
	if _, err := NewRunner(mfs, opts); err == nil {
		t.Error("expected error for zero std ratio")
	}
}

func TestRunSingleFile(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("cloud.ply", plyBytes(t, twoColorCloud(6)))

	lc := &logCapture{}
	opts := defaultTestOptions()
	opts.Logf = lc.logf
	runner, err := NewRunner(mfs, opts)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if err := runner.Run("cloud.ply", "reduced.ply"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	out := readOutput(t, mfs, "reduced.ply")
	if out.Len() != 2 {
		t.Errorf("expected 2 points (one per color bin), got %d", out.Len())
	}
	if !lc.contains("[prism]") {
		t.Error("expected a per-file summary log line")
	}
}

func TestRunDirectorySweep(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile(filepath.Join("in", "a.ply"), plyBytes(t, twoColorCloud(6)))
	mfs.WriteFile(filepath.Join("in", "sub", "b.ply"), plyBytes(t, twoColorCloud(4)))
	mfs.WriteFile(filepath.Join("in", "nocolor.ply"), plyBytes(t, &pointcloud.PointCloud{
		Points: []r3.Vector{{X: 1}, {X: 2}},
	}))
	mfs.WriteFile(filepath.Join("in", "notes.txt"), []byte("not a cloud"))
	mfs.WriteFile(filepath.Join("in", "broken.ply"), []byte("not really ply"))

	lc := &logCapture{}
	opts := defaultTestOptions()
	opts.Logf = lc.logf
	runner, err := NewRunner(mfs, opts)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if err := runner.Run("in", "out"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The output tree mirrors the input tree.
	if out := readOutput(t, mfs, filepath.Join("out", "a.ply")); out.Len() != 2 {
		t.Errorf("a.ply: expected 2 points, got %d", out.Len())
	}
	if out := readOutput(t, mfs, filepath.Join("out", "sub", "b.ply")); out.Len() != 2 {
		t.Errorf("sub/b.ply: expected 2 points, got %d", out.Len())
	}

	// Colorless and malformed files are skipped, not fatal.
	if _, err := mfs.ReadFile(filepath.Join("out", "nocolor.ply")); err == nil {
		t.Error("colorless cloud should not produce output")
	}
	if !lc.contains("no color data") {
		t.Error("expected a skip warning for the colorless cloud")
	}
	if !lc.contains("[ERROR]") {
		t.Error("expected an error log for the malformed cloud")
	}
	if _, err := mfs.ReadFile(filepath.Join("out", "notes.txt")); err == nil {
		t.Error("non-PLY files should be ignored")
	}
}

func TestRunMissingInput(t *testing.T) {
	runner, err := NewRunner(fsutil.NewMemoryFileSystem(), defaultTestOptions())
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if err := runner.Run("missing.ply", "out.ply"); err == nil {
		t.Error("expected error for missing input path")
	}
}

func TestRunDeterministicUnderSeed(t *testing.T) {
	cloud := plyBytes(t, twoColorCloud(40))

	outputs := make([][]byte, 2)
	for i := range outputs {
		mfs := fsutil.NewMemoryFileSystem()
		mfs.WriteFile(filepath.Join("in", "a.ply"), cloud)
		opts := defaultTestOptions()
		opts.Sampling.K = 3
		runner, err := NewRunner(mfs, opts)
		if err != nil {
			t.Fatalf("NewRunner failed: %v", err)
		}
		if err := runner.Run("in", "out"); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		data, err := mfs.ReadFile(filepath.Join("out", "a.ply"))
		if err != nil {
			t.Fatalf("output missing: %v", err)
		}
		outputs[i] = data
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Error("same seed produced different outputs")
	}
}

func TestRunWithOutlierRemoval(t *testing.T) {
	// A tight grid plus one distant point: the filter drops the
	// distant point before sampling, and a large k keeps the rest.
	cloud := &pointcloud.PointCloud{}
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			for z := 0; z < 3; z++ {
				cloud.Points = append(cloud.Points, r3.Vector{
					X: float64(x) * 0.5, Y: float64(y) * 0.5, Z: float64(z) * 0.5,
				})
				cloud.Colors = append(cloud.Colors, pointcloud.Color{1, 0, 0})
			}
		}
	}
	cloud.Points = append(cloud.Points, r3.Vector{X: 100, Y: 100, Z: 100})
	cloud.Colors = append(cloud.Colors, pointcloud.Color{0, 0, 1})

	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("grid.ply", plyBytes(t, cloud))

	opts := defaultTestOptions()
	opts.SkipOutlierRemoval = false
	opts.OutlierNeighbours = 10
	opts.OutlierStdRatio = 2.0
	opts.Sampling.K = 100
	runner, err := NewRunner(mfs, opts)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if err := runner.Run("grid.ply", "clean.ply"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	out := readOutput(t, mfs, "clean.ply")
	if out.Len() != 27 {
		t.Errorf("expected 27 points after outlier removal, got %d", out.Len())
	}
	for _, c := range out.Colors {
		if c == (pointcloud.Color{0, 0, 1}) {
			t.Error("outlier survived the batch pipeline")
		}
	}
}

func TestRunWritesBinPlot(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("cloud.ply", plyBytes(t, twoColorCloud(10)))

	opts := defaultTestOptions()
	opts.PlotBins = true
	runner, err := NewRunner(mfs, opts)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if err := runner.Run("cloud.ply", "reduced.ply"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	png, err := mfs.ReadFile("reduced_bins.png")
	if err != nil {
		t.Fatalf("bin plot missing: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")) {
		t.Error("bin plot is not a PNG")
	}
}

func TestRunRecordsToRunLog(t *testing.T) {
	db, err := rundb.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("rundb.Open failed: %v", err)
	}
	defer db.Close()

	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile(filepath.Join("in", "a.ply"), plyBytes(t, twoColorCloud(6)))
	mfs.WriteFile(filepath.Join("in", "b.ply"), plyBytes(t, twoColorCloud(8)))

	opts := defaultTestOptions()
	opts.DB = db
	runner, err := NewRunner(mfs, opts)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if err := runner.Run("in", "out"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	count, err := db.CountRuns(runner.RunID())
	if err != nil {
		t.Fatalf("CountRuns failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 run records, got %d", count)
	}
}

func TestFileSeedStableAcrossRunners(t *testing.T) {
	opts := defaultTestOptions()
	a, err := NewRunner(fsutil.NewMemoryFileSystem(), opts)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	b, err := NewRunner(fsutil.NewMemoryFileSystem(), opts)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if a.fileSeed("sub/cloud.ply") != b.fileSeed("sub/cloud.ply") {
		t.Error("same seed and path must derive the same file seed")
	}
	if a.fileSeed("sub/cloud.ply") == a.fileSeed("sub/other.ply") {
		t.Error("different paths should decorrelate file seeds")
	}
}

func TestFormatCount(t *testing.T) {
	cases := map[int]string{
		0:       "0",
		999:     "999",
		1000:    "1,000",
		12345:   "12,345",
		1234567: "1,234,567",
	}
	for n, want := range cases {
		if got := formatCount(n); got != want {
			t.Errorf("formatCount(%d) = %q, want %q", n, got, want)
		}
	}
}
