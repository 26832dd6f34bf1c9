package indexdb

import (
	"context"
	"database/sql"
	"fmt"
)

// ListRuns reads the most recent finished and unfinished runs from the index
// at path. It opens its own connection so it can run next to a live writer.
func ListRuns(ctx context.Context, path string, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT run_id, scenario, seed, started_at,
		COALESCE(finished_at,''), COALESCE(outcome,''), steps, stops, arrived, crashed,
		COALESCE(final_x,0), COALESCE(final_y,0), COALESCE(final_heading,0)
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var steps int64
		var crashed int
		if err := rows.Scan(&r.RunID, &r.Scenario, &r.Seed, &r.StartedAt, &r.FinishedAt, &r.Outcome,
			&steps, &r.Stops, &r.Arrived, &crashed, &r.Final.X, &r.Final.Y, &r.Final.Heading); err != nil {
			return nil, err
		}
		r.Steps = uint64(steps)
		r.Crashed = crashed != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
