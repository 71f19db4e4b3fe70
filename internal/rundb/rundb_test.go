package rundb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *RunDB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAppliesSchema(t *testing.T) {
	db := openTestDB(t)

	var name string
	err := db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'sample_runs'`,
	).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "sample_runs", name)
}

func TestRecordAndCountRuns(t *testing.T) {
	db := openTestDB(t)

	rec := RunRecord{
		RunID:          "run-a",
		InputPath:      "in/cloud.ply",
		OutputPath:     "out/cloud.ply",
		K:              2,
		Quantization:   1.0,
		Chromaticity:   true,
		InputPoints:    10000,
		FilteredPoints: 9800,
		OutputPoints:   120,
		DurationMs:     37,
	}
	require.NoError(t, db.RecordRun(rec))

	rec.InputPath = "in/other.ply"
	require.NoError(t, db.RecordRun(rec))

	rec.RunID = "run-b"
	require.NoError(t, db.RecordRun(rec))

	count, err := db.CountRuns("run-a")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = db.CountRuns("")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRecordRunRoundTrip(t *testing.T) {
	db := openTestDB(t)

	rec := RunRecord{
		RunID:        "round-trip",
		InputPath:    "a.ply",
		OutputPath:   "b.ply",
		K:            5,
		Quantization: 0.5,
		Chromaticity: false,
		InputPoints:  42,
		OutputPoints: 7,
		DurationMs:   12,
	}
	require.NoError(t, db.RecordRun(rec))

	var (
		k            int
		quantization float64
		chroma       int
		inPts, out   int
	)
	err := db.QueryRow(
		`SELECT k, quantization, chromaticity, input_points, output_points
		 FROM sample_runs WHERE run_id = ?`, rec.RunID,
	).Scan(&k, &quantization, &chroma, &inPts, &out)
	require.NoError(t, err)
	assert.Equal(t, 5, k)
	assert.Equal(t, 0.5, quantization)
	assert.Equal(t, 0, chroma)
	assert.Equal(t, 42, inPts)
	assert.Equal(t, 7, out)
}
