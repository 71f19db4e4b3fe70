// Package rundb records sampling runs in a SQLite database so batch
// results stay queryable after the process exits.
package rundb

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// RunDB wraps the run log database.
type RunDB struct {
	*sql.DB
}

// Open opens (creating if necessary) the run log at path and applies
// the schema.
func Open(path string) (*RunDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("rundb: applying schema: %w", err)
	}
	return &RunDB{db}, nil
}

// RunRecord describes one processed file.
type RunRecord struct {
	RunID          string
	InputPath      string
	OutputPath     string
	K              int
	Quantization   float64
	Chromaticity   bool
	InputPoints    int
	FilteredPoints int
	OutputPoints   int
	DurationMs     int64
}

// RecordRun stores one per-file record.
func (db *RunDB) RecordRun(rec RunRecord) error {
	query := `
		INSERT INTO sample_runs (
			run_id, input_path, output_path,
			k, quantization, chromaticity,
			input_points, filtered_points, output_points, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	chroma := 0
	if rec.Chromaticity {
		chroma = 1
	}
	_, err := db.Exec(query,
		rec.RunID, rec.InputPath, rec.OutputPath,
		rec.K, rec.Quantization, chroma,
		rec.InputPoints, rec.FilteredPoints, rec.OutputPoints, rec.DurationMs)
	if err != nil {
		return fmt.Errorf("rundb: inserting run record: %w", err)
	}
	return nil
}

// CountRuns returns the number of recorded files for a run id, or for
// all runs when runID is empty.
func (db *RunDB) CountRuns(runID string) (int, error) {
	var (
		count int
		err   error
	)
	if runID == "" {
		err = db.QueryRow(`SELECT COUNT(*) FROM sample_runs`).Scan(&count)
	} else {
		err = db.QueryRow(`SELECT COUNT(*) FROM sample_runs WHERE run_id = ?`, runID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("rundb: counting runs: %w", err)
	}
	return count, nil
}
